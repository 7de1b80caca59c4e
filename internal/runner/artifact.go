package runner

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// artifactFile is the single output file a command writes inside its
// per-job directory.
const artifactFile = "output"

// ArtifactPath returns the writable output path for a job. Each job
// owns the directory <root>/<id>/ and nothing outside it.
func ArtifactPath(root string, id int64) string {
	return filepath.Join(root, strconv.FormatInt(id, 10), artifactFile)
}

// EnsureArtifactPath creates the job's artifact directory and returns
// the output path the command should write to.
func EnsureArtifactPath(root string, id int64) (string, error) {
	path := ArtifactPath(root, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// InspectArtifact verifies the artifact exists, is non-empty and is
// readable, and sniffs its MIME type from the leading bytes.
func InspectArtifact(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("missing: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("empty artifact %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("unreadable: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return "", fmt.Errorf("unreadable: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}
