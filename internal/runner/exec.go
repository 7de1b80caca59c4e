package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

// stderrTailLimit bounds how much captured stderr ends up in a failure
// message.
const stderrTailLimit = 2048

// CommandExecutor invokes job commands as OS processes. Arguments are
// passed as a structured vector, one --name value pair per argument;
// nothing is ever interpolated through a shell.
type CommandExecutor struct {
	// KillGrace is how long a stopped child gets between SIGTERM and
	// SIGKILL.
	KillGrace time.Duration
}

func (e *CommandExecutor) Execute(ctx context.Context, job domain.Job, artifactPath string, progress func(line string) bool) ExecResult {
	argv := make([]string, 0, len(job.Args)*2)
	for _, arg := range job.Args {
		argv = append(argv, "--"+arg.Name, arg.Value)
	}

	cmd := exec.Command(job.Command, argv...)
	cmd.Env = append(os.Environ(),
		"CDR_JOB_ID="+strconv.FormatInt(job.ID, 10),
		"CDR_ARTIFACT_PATH="+artifactPath,
		"CDR_JOB_NAME="+job.Name,
		"CDR_SUBMITTER="+job.Submitter.Name,
		"CDR_SUBMITTER_EMAIL="+job.Submitter.Email,
		"CDR_RECIPIENTS="+strings.Join(job.Recipients, " "),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExecResult{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ExecResult{Err: fmt.Errorf("start: %w", err)}
	}

	// cancelled is closed when a progress write reports the job is no
	// longer running and the child must be stopped.
	cancelled := make(chan struct{})
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !progress(line) {
				close(cancelled)
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		waitErr = e.stop(cmd, waitDone)
	case <-cancelled:
		waitErr = e.stop(cmd, waitDone)
	}
	<-scanDone

	tail := stderr.String()
	if len(tail) > stderrTailLimit {
		tail = tail[len(tail)-stderrTailLimit:]
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return ExecResult{ExitCode: exitErr.ExitCode(), Stderr: tail}
		}
		return ExecResult{Err: waitErr, Stderr: tail}
	}
	return ExecResult{ExitCode: 0, Stderr: tail}
}

// stop terminates the child's process group, politely first, and
// returns the wait result once the child is gone.
func (e *CommandExecutor) stop(cmd *exec.Cmd, waitDone <-chan error) error {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	grace := e.KillGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case err := <-waitDone:
		return err
	case <-time.After(grace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return <-waitDone
	}
}
