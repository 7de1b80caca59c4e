package api

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

// The admin pages are deliberately spare server-rendered HTML; styling
// lives with the hosting portal, not here.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "layout_top"}}<!DOCTYPE html>
<html>
<head><title>{{.}}</title></head>
<body>
<h1>{{.}}</h1>
{{end}}

{{define "layout_bottom"}}</body>
</html>
{{end}}

{{define "receipt"}}{{template "layout_top" "Batch Job Submitted"}}
<p>Job <strong>{{.Job.Name}}</strong> was admitted as job number <strong>{{.Job.ID}}</strong>.</p>
<p>Progress is available on the <a href="{{.StatusURL}}">status page</a>.</p>
{{if .Job.Recipients}}<p>Completion email will be sent to: {{range .Job.Recipients}}{{.}} {{end}}</p>{{end}}
{{template "layout_bottom"}}{{end}}

{{define "status"}}{{template "layout_top" "Batch Job Status"}}
<table border="1" cellpadding="4">
<tr><th>Job</th><td>{{.Job.Name}} (#{{.Job.ID}})</td></tr>
<tr><th>Status</th><td>{{.Job.Status}}</td></tr>
<tr><th>Detail</th><td>{{.Job.StatusMessage}}</td></tr>
<tr><th>Submitted</th><td>{{.Submitted}}</td></tr>
<tr><th>Elapsed</th><td>{{.Elapsed}}</td></tr>
{{if .ArtifactURL}}<tr><th>Result</th><td><a href="{{.ArtifactURL}}">download</a></td></tr>{{end}}
</table>
{{if not .Terminal}}<p>This page refreshes automatically while the job is active.</p>{{end}}
{{template "layout_bottom"}}{{end}}

{{define "jobs"}}{{template "layout_top" "Batch Jobs"}}
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Name</th><th>Status</th><th>Submitter</th><th>Submitted</th><th>Detail</th></tr>
{{range .Rows}}<tr>
<td><a href="{{.StatusURL}}">{{.Job.ID}}</a></td>
<td>{{.Job.Name}}</td>
<td>{{.Job.Status}}</td>
<td>{{.Job.Submitter.Name}}</td>
<td>{{.Submitted}}</td>
<td>{{.Job.StatusMessage}}</td>
</tr>{{end}}
</table>
{{if not .Rows}}<p>No jobs matched.</p>{{end}}
{{template "layout_bottom"}}{{end}}

{{define "error"}}{{template "layout_top" "Batch Job Error"}}
<p><strong>{{.Code}}</strong></p>
<p>{{.Detail}}</p>
{{template "layout_bottom"}}{{end}}
`))

type statusPage struct {
	Job         domain.Job
	Submitted   string
	Elapsed     string
	ArtifactURL string
	Terminal    bool
}

type jobRow struct {
	Job       domain.Job
	Submitted string
	StatusURL string
}

func (s *Server) renderReceipt(w http.ResponseWriter, job domain.Job) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := struct {
		Job       domain.Job
		StatusURL string
	}{job, fmt.Sprintf("/status?id=%d", job.ID)}
	if err := pageTemplates.ExecuteTemplate(w, "receipt", data); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) renderStatus(w http.ResponseWriter, job domain.Job) {
	terminal := job.Status.IsTerminal()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if terminal {
		// Terminal records never change again.
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Refresh", "15")
	}

	page := statusPage{
		Job:       job,
		Submitted: job.SubmittedAt.Format(time.RFC1123),
		Elapsed:   job.Elapsed(s.clock().UTC()).Round(time.Second).String(),
		Terminal:  terminal,
	}
	if job.Status == domain.StatusSuccess && job.ArtifactRef != "" {
		page.ArtifactURL = fmt.Sprintf("/artifact?id=%d", job.ID)
	}
	if err := pageTemplates.ExecuteTemplate(w, "status", page); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) renderJobs(w http.ResponseWriter, jobs []domain.Job) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	rows := make([]jobRow, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, jobRow{
			Job:       job,
			Submitted: job.SubmittedAt.Format(time.RFC1123),
			StatusURL: fmt.Sprintf("/status?id=%d", job.ID),
		})
	}
	data := struct{ Rows []jobRow }{rows}
	if err := pageTemplates.ExecuteTemplate(w, "jobs", data); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) renderError(w http.ResponseWriter, apiErr *apiError) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(apiErr.Status)
	if err := pageTemplates.ExecuteTemplate(w, "error", apiErr); err != nil {
		fmt.Fprintf(w, "%s", apiErr.Code)
	}
}
