// Package api serves the job admission, status, and operator endpoints.
// Handlers translate between HTTP and the core packages: the core
// returns structured values and sentinel errors, and every page, header
// and error code is produced here.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/jobdefs"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
)

// sessionCookie is the fallback credential for browser requests; the
// explicit session parameter always wins.
const sessionCookie = "CDR-Session"

// maxFormBytes bounds an admission request body.
const maxFormBytes = 1 << 20

// reserved form fields that are never job arguments.
const (
	fieldSession    = "session"
	fieldRecipients = "recipients"
)

type Store interface {
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	ListJobs(ctx context.Context, filter store.ListFilter, limit, offset int) ([]domain.Job, error)
	UpdateStatus(ctx context.Context, id int64, next domain.JobStatus, message, artifactRef, artifactMIME string) error
	Ping(ctx context.Context) error
}

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (domain.User, error)
}

type Registry interface {
	Get(name string) (jobdefs.Definition, bool)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.JobEvent) error
}

type Config struct {
	// Host is the execution host recorded on jobs whose definition
	// does not pin one.
	Host           string
	DefaultTimeout time.Duration

	// StoreRetries is how many times a failed store call is retried
	// before answering 503.
	StoreRetries  int
	RetryInterval time.Duration
}

type Server struct {
	config   Config
	store    Store
	sessions SessionResolver
	registry Registry
	emitter  EventEmitter
	clock    func() time.Time
}

func NewServer(config Config, st Store, sessions SessionResolver, registry Registry, emitter EventEmitter) *Server {
	if config.StoreRetries <= 0 {
		config.StoreRetries = 2
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 100 * time.Millisecond
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Minute
	}
	return &Server{
		config:   config,
		store:    st,
		sessions: sessions,
		registry: registry,
		emitter:  emitter,
		clock:    time.Now,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/submit/{name}", s.handleSubmit)
	r.Get("/status", s.handleStatus)
	r.Get("/artifact", s.handleArtifact)
	r.Get("/jobs", s.handleJobs)
	r.Post("/fail", s.handleFail)
	r.Post("/approve", s.handleApprove)
	r.Get("/health", s.handleHealth)

	// Admission is POST only; a GET with arguments in the URL would
	// leak them into logs and referrers.
	r.Get("/submit/{name}", func(w http.ResponseWriter, req *http.Request) {
		s.renderError(w, &apiError{
			Code:   CodeBadRequest,
			Status: http.StatusMethodNotAllowed,
			Detail: "job submission requires POST",
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := s.clock()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		log.Printf("api: %s %s -> %d (%s)", req.Method, req.URL.Path, ww.Status(), time.Since(start))
	})
}

// authenticate resolves the request's session from the explicit
// parameter, falling back to the browser cookie.
func (s *Server) authenticate(req *http.Request) (domain.User, error) {
	token := req.FormValue(fieldSession)
	if token == "" {
		if c, err := req.Cookie(sessionCookie); err == nil {
			token = c.Value
		}
	}
	return s.sessions.Resolve(req.Context(), token)
}

func (s *Server) handleSubmit(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, maxFormBytes)
	if err := req.ParseForm(); err != nil {
		s.renderError(w, badRequest("malformed form body"))
		return
	}

	user, err := s.authenticate(req)
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}

	name := chi.URLParam(req, "name")
	def, ok := s.registry.Get(name)
	if !ok {
		s.renderError(w, &apiError{Code: CodeNotFound, Status: http.StatusNotFound,
			Detail: fmt.Sprintf("no such job type %q", name)})
		return
	}

	if def.Capability != "" && !user.Can(def.Capability) {
		s.renderError(w, forbidden(fmt.Sprintf("submitting %q requires the %s capability", name, def.Capability)))
		return
	}

	raw := make(map[string]string)
	for key, values := range req.PostForm {
		k := strings.ToLower(key)
		if k == fieldSession || k == fieldRecipients {
			continue
		}
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	args, err := def.ValidateArgs(raw)
	if err != nil {
		s.renderError(w, validationError(err.Error()))
		return
	}

	var recipients []string
	if recipientsField := req.PostForm.Get(fieldRecipients); recipientsField != "" {
		recipients, err = jobdefs.ParseEmailList(recipientsField)
		if err != nil {
			s.renderError(w, validationError(fmt.Sprintf("recipients: %v", err)))
			return
		}
	} else if user.Email != "" {
		recipients = []string{user.Email}
	}
	if !def.Inline && len(recipients) == 0 {
		s.renderError(w, validationError("at least one notification recipient is required"))
		return
	}

	job := domain.Job{
		Name:          def.Name,
		Command:       def.Command,
		Args:          args,
		Submitter:     user,
		Recipients:    recipients,
		SubmittedAt:   s.clock().UTC(),
		Status:        domain.StatusQueued,
		Host:          def.Host,
		Class:         def.Class,
		NeedsApproval: def.NeedsApproval,
		Timeout:       def.Timeout,
	}
	if job.Host == "" {
		job.Host = s.config.Host
	}
	if job.Timeout <= 0 {
		job.Timeout = s.config.DefaultTimeout
	}

	var id int64
	err = s.withRetry(req.Context(), func(ctx context.Context) error {
		var createErr error
		id, createErr = s.store.CreateJob(ctx, job)
		return createErr
	})
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}
	job.ID = id

	log.Printf("api: job=%d name=%q admitted by %s", id, job.Name, user.Name)
	s.renderReceipt(w, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	user, err := s.authenticate(req)
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}
	job, apiErr := s.fetchVisibleJob(req, user)
	if apiErr != nil {
		s.renderError(w, apiErr)
		return
	}
	s.renderStatus(w, job)
}

func (s *Server) handleArtifact(w http.ResponseWriter, req *http.Request) {
	user, err := s.authenticate(req)
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}
	job, apiErr := s.fetchVisibleJob(req, user)
	if apiErr != nil {
		s.renderError(w, apiErr)
		return
	}
	if job.Status != domain.StatusSuccess || job.ArtifactRef == "" {
		s.renderError(w, &apiError{Code: CodeNotFound, Status: http.StatusNotFound,
			Detail: "the job has no published result"})
		return
	}
	if job.ArtifactMIME != "" {
		w.Header().Set("Content-Type", job.ArtifactMIME)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, req, job.ArtifactRef)
}

// fetchVisibleJob loads the job named by ?id= and enforces that only
// the submitter and operators may see it.
func (s *Server) fetchVisibleJob(req *http.Request, user domain.User) (domain.Job, *apiError) {
	id, ok := parseID(req.URL.Query().Get("id"))
	if !ok {
		return domain.Job{}, badRequest("a numeric id parameter is required")
	}

	var job domain.Job
	err := s.withRetry(req.Context(), func(ctx context.Context) error {
		var getErr error
		job, getErr = s.store.GetJob(ctx, id)
		return getErr
	})
	if err != nil {
		return domain.Job{}, toAPIError(err)
	}

	if job.Submitter.Name != user.Name && !user.Can(domain.CapOperator) {
		return domain.Job{}, forbidden("only the submitter and operators may view this job")
	}
	return job, nil
}

func (s *Server) handleJobs(w http.ResponseWriter, req *http.Request) {
	user, err := s.authenticate(req)
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}

	q := req.URL.Query()
	filter := store.ListFilter{
		Name: q.Get("name"),
	}
	if statuses := q.Get("status"); statuses != "" {
		for _, raw := range strings.Split(statuses, ",") {
			status := domain.JobStatus(strings.TrimSpace(raw))
			switch status {
			case domain.StatusQueued, domain.StatusRunning, domain.StatusWaitingApproval,
				domain.StatusSuccess, domain.StatusFailure:
				filter.Statuses = append(filter.Statuses, status)
			default:
				s.renderError(w, badRequest(fmt.Sprintf("unknown status %q", raw)))
				return
			}
		}
	}
	if ageHours, ok := parseID(q.Get("age")); ok {
		filter.Since = s.clock().UTC().Add(-time.Duration(ageHours) * time.Hour)
	}
	if stalledHours, ok := parseID(q.Get("stalled")); ok {
		filter.StalledBefore = s.clock().UTC().Add(-time.Duration(stalledHours) * time.Hour)
	}

	// Non-operators only see their own jobs.
	if !user.Can(domain.CapOperator) {
		filter.Submitter = user.Name
	}

	limit := 100
	if n, ok := parseID(q.Get("limit")); ok && n > 0 && n <= 1000 {
		limit = int(n)
	}
	offset := 0
	if n, ok := parseID(q.Get("offset")); ok && n >= 0 {
		offset = int(n)
	}

	var jobs []domain.Job
	err = s.withRetry(req.Context(), func(ctx context.Context) error {
		var listErr error
		jobs, listErr = s.store.ListJobs(ctx, filter, limit, offset)
		return listErr
	})
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}
	s.renderJobs(w, jobs)
}

func (s *Server) handleFail(w http.ResponseWriter, req *http.Request) {
	user, apiErr := s.requireOperator(req)
	if apiErr != nil {
		s.renderError(w, apiErr)
		return
	}
	id, ok := parseID(req.URL.Query().Get("id"))
	if !ok {
		s.renderError(w, badRequest("a numeric id parameter is required"))
		return
	}

	reason := strings.TrimSpace(req.FormValue("reason"))
	if reason == "" {
		reason = fmt.Sprintf("cancelled by %s", user.Name)
	}

	err := s.withRetry(req.Context(), func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, id, domain.StatusFailure, reason, "", "")
	})
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}

	log.Printf("api: job=%d failed by operator %s: %s", id, user.Name, reason)
	s.emitEvent(req.Context(), id, domain.StatusFailure)

	job, getErr := s.store.GetJob(req.Context(), id)
	if getErr != nil {
		job = domain.Job{ID: id, Status: domain.StatusFailure, StatusMessage: reason}
	}
	s.renderStatus(w, job)
}

func (s *Server) handleApprove(w http.ResponseWriter, req *http.Request) {
	user, apiErr := s.requireOperator(req)
	if apiErr != nil {
		s.renderError(w, apiErr)
		return
	}
	id, ok := parseID(req.URL.Query().Get("id"))
	if !ok {
		s.renderError(w, badRequest("a numeric id parameter is required"))
		return
	}

	err := s.withRetry(req.Context(), func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, id, domain.StatusRunning,
			fmt.Sprintf("approved by %s", user.Name), "", "")
	})
	if err != nil {
		s.renderError(w, toAPIError(err))
		return
	}

	log.Printf("api: job=%d approved by %s", id, user.Name)
	job, getErr := s.store.GetJob(req.Context(), id)
	if getErr != nil {
		job = domain.Job{ID: id, Status: domain.StatusRunning}
	}
	s.renderStatus(w, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if err := s.store.Ping(req.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "store: unavailable (%v)\n", err)
		return
	}
	fmt.Fprintln(w, "store: ok")
}

func (s *Server) requireOperator(req *http.Request) (domain.User, *apiError) {
	user, err := s.authenticate(req)
	if err != nil {
		return domain.User{}, toAPIError(err)
	}
	if !user.Can(domain.CapOperator) {
		return domain.User{}, forbidden(fmt.Sprintf("the %s capability is required", domain.CapOperator))
	}
	return user, nil
}

func (s *Server) emitEvent(ctx context.Context, id int64, status domain.JobStatus) {
	if s.emitter == nil {
		return
	}
	event := domain.JobEvent{JobID: id, Status: status, OccurredAt: s.clock().UTC()}
	if err := s.emitter.Emit(ctx, event); err != nil {
		log.Printf("api: job=%d emit failed: %v", id, err)
	}
}

// withRetry retries transient store failures a bounded number of times.
// Domain sentinel errors are returned immediately.
func (s *Server) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.config.StoreRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.RetryInterval):
			}
		}
		err = fn(ctx)
		if err == nil ||
			errors.Is(err, store.ErrNotFound) ||
			errors.Is(err, store.ErrIllegalTransition) {
			return err
		}
	}
	return err
}

func parseID(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
