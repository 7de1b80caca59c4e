package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

// bodyTemplate is the plain-text completion message. Recipients get the
// status page link rather than inline results; the artifact link is
// present only on success.
var bodyTemplate = template.Must(template.New("mail").Parse(`The batch job you requested has finished.

    Job:        {{.Name}} (#{{.ID}})
    Outcome:    {{.Outcome}}
    Submitted:  {{.Submitted}}
    Elapsed:    {{.Elapsed}}
{{- if .Message}}
    Detail:     {{.Message}}
{{- end}}

Status page: {{.StatusURL}}
{{- if .ArtifactURL}}
Result:      {{.ArtifactURL}}
{{- end}}

This message was generated automatically; replies are not monitored.
`))

// Renderer builds completion mail from a job record.
type Renderer struct {
	baseURL string
	clock   func() time.Time
}

func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   time.Now,
	}
}

func (r *Renderer) Render(job domain.Job) (subject, body string) {
	outcome := "completed successfully"
	if job.Status == domain.StatusFailure {
		outcome = "failed"
	}
	subject = fmt.Sprintf("[CDR] Batch job %q %s", job.Name, outcome)

	data := struct {
		ID          int64
		Name        string
		Outcome     string
		Submitted   string
		Elapsed     string
		Message     string
		StatusURL   string
		ArtifactURL string
	}{
		ID:        job.ID,
		Name:      job.Name,
		Outcome:   outcome,
		Submitted: job.SubmittedAt.Format(time.RFC1123),
		Elapsed:   job.Elapsed(r.clock().UTC()).Round(time.Second).String(),
		Message:   job.StatusMessage,
		StatusURL: fmt.Sprintf("%s/status?id=%d", r.baseURL, job.ID),
	}
	if job.Status == domain.StatusSuccess && job.ArtifactRef != "" {
		data.ArtifactURL = fmt.Sprintf("%s/artifact?id=%d", r.baseURL, job.ID)
	}

	var b strings.Builder
	if err := bodyTemplate.Execute(&b, data); err != nil {
		// The template is static; execution cannot fail on this data.
		return subject, fmt.Sprintf("Batch job %q (#%d) %s.\n", job.Name, job.ID, outcome)
	}
	return subject, b.String()
}
