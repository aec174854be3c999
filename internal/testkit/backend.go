// Package testkit provides an in-memory training platform backend served over
// httptest, for exercising controllers through the real API client.
package testkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/model"
)

// Request is one request the backend received.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type submissionRec struct {
	id           int64
	challengeID  int64
	studentID    int64
	kind         model.ChallengeType
	status       model.SubmissionStatus
	startedAt    time.Time
	completedAt  *time.Time
	totalOps     int
	totalMinutes float64
	isApproved   *bool
	retryAllowed bool
	retryCount   int
	notes        string
	errors       []model.SubmissionError
}

type operationRec struct {
	id          int64
	submission  int64
	number      int
	reference   string
	startedAt   time.Time
	completedAt *time.Time
	hasError    bool
	isApproved  *bool
	errors      []model.OperationError
}

type lessonRec struct {
	id           int64
	lessonID     int64
	title        string
	studentID    int64
	startedBy    model.Role
	estimated    int
	status       model.LessonStatus
	accumulated  int64
	runningSince *time.Time
	confirmed    bool
	approved     bool
}

type failure struct {
	status int
	detail string
}

// Backend is a fake REST backend holding its state in memory.
type Backend struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	now         time.Time
	user        model.User
	token       string
	nextID      int64
	challenges  map[int64]model.Challenge
	submissions map[int64]*submissionRec
	operations  map[int64][]*operationRec
	opsByID     map[int64]*operationRec
	lessons     map[int64]*lessonRec
	requests    []Request
	failures    []failure
}

// NewBackend starts a fake backend that stops when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		t:           t,
		now:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		user:        model.User{ID: 1, Email: "student@example.com", Name: "Student One", Role: model.RoleStudent},
		token:       "test-token",
		nextID:      100,
		challenges:  map[int64]model.Challenge{},
		submissions: map[int64]*submissionRec{},
		operations:  map[int64][]*operationRec{},
		opsByID:     map[int64]*operationRec{},
		lessons:     map[int64]*lessonRec{},
	}
	mux := http.NewServeMux()
	b.routes(mux)
	b.server = httptest.NewServer(b.record(mux))
	t.Cleanup(b.server.Close)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string { return b.server.URL }

// Client returns an API client pointed at the backend.
func (b *Backend) Client(opts ...api.Option) *api.Client {
	b.t.Helper()
	c, err := api.New(b.server.URL, staticToken(b.token), opts...)
	if err != nil {
		b.t.Fatalf("api client: %v", err)
	}
	return c
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

// SetUser sets the identity returned by the auth endpoints and used as
// owner of self-started submissions.
func (b *Backend) SetUser(u model.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user = u
}

// Advance moves the backend clock forward.
func (b *Backend) Advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(d)
}

// Now returns the backend clock.
func (b *Backend) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// AddChallenge registers a challenge template.
func (b *Backend) AddChallenge(c model.Challenge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.challenges[c.ID] = c
}

// SeedSubmission stores a COMPLETE submission in the given state and returns its id.
func (b *Backend) SeedSubmission(challengeID int64, status model.SubmissionStatus, isApproved *bool) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.newSubmission(challengeID, b.user.ID, model.ChallengeComplete)
	sub.status = status
	sub.isApproved = isApproved
	return sub.id
}

// SeedOperation appends an operation to a submission. A nil approved leaves
// it unclassified; done=false leaves it open.
func (b *Backend) SeedOperation(submissionID int64, reference string, done bool, approved *bool) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := b.newOperation(submissionID, reference)
	if done {
		at := b.now
		op.completedAt = &at
	}
	op.isApproved = approved
	if approved != nil {
		op.hasError = !*approved
	}
	return op.id
}

// ClassifyDirect grades an operation as a concurrent trainer would.
func (b *Backend) ClassifyDirect(operationID int64, hasError bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := b.opsByID[operationID]
	approved := !hasError
	op.hasError = hasError
	op.isApproved = &approved
}

// SeedLesson stores a lesson progress record and returns its id.
func (b *Backend) SeedLesson(lessonID, studentID int64, title string, startedBy model.Role, estimatedMinutes int, status model.LessonStatus) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	rec := &lessonRec{
		id:        b.nextID,
		lessonID:  lessonID,
		title:     title,
		studentID: studentID,
		startedBy: startedBy,
		estimated: estimatedMinutes,
		status:    status,
	}
	b.lessons[rec.id] = rec
	return rec.id
}

// FailNext makes the next request fail with the given status and detail.
func (b *Backend) FailNext(status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, failure{status: status, detail: detail})
}

// Requests returns a copy of every request received so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// RequestCount returns the number of requests received so far.
func (b *Backend) RequestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// CountPath returns how many requests hit method+path.
func (b *Backend) CountPath(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// OpenOperations returns how many operations of a submission have no completion time.
func (b *Backend) OpenOperations(submissionID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, op := range b.operations[submissionID] {
		if op.completedAt == nil {
			n++
		}
	}
	return n
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})
		var fail *failure
		if len(b.failures) > 0 {
			f := b.failures[0]
			b.failures = b.failures[1:]
			fail = &f
		}
		b.mu.Unlock()
		if fail != nil {
			writeJSON(w, fail.status, map[string]any{"detail": fail.detail})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

type handlerFunc func(r *http.Request) (int, any)

func (b *Backend) handle(mux *http.ServeMux, pattern string, fn handlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status, payload := fn(r)
		b.mu.Unlock()
		writeJSON(w, status, payload)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func detail(msg string) map[string]any {
	return map[string]any{"detail": msg}
}

func pathID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func (b *Backend) newSubmission(challengeID, studentID int64, kind model.ChallengeType) *submissionRec {
	b.nextID++
	sub := &submissionRec{
		id:          b.nextID,
		challengeID: challengeID,
		studentID:   studentID,
		kind:        kind,
		status:      model.StatusInProgress,
		startedAt:   b.now,
	}
	b.submissions[sub.id] = sub
	return sub
}

func (b *Backend) newOperation(submissionID int64, reference string) *operationRec {
	b.nextID++
	op := &operationRec{
		id:         b.nextID,
		submission: submissionID,
		number:     len(b.operations[submissionID]) + 1,
		reference:  reference,
		startedAt:  b.now,
	}
	b.operations[submissionID] = append(b.operations[submissionID], op)
	b.opsByID[op.id] = op
	return op
}

func timeJSON(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (b *Backend) challengeJSON(c model.Challenge) map[string]any {
	return map[string]any{
		"id":                  c.ID,
		"title":               c.Title,
		"challenge_type":      string(c.Type),
		"operations_required": c.OperationsRequired,
		"time_limit_minutes":  c.TimeLimitMinutes,
		"target_mpu":          c.TargetMPU,
		"max_errors":          c.MaxErrors,
		"use_volume_kpi":      c.UseVolumeKPI,
		"use_mpu_kpi":         c.UseMPUKPI,
		"use_errors_kpi":      c.UseErrorsKPI,
		"kpi_mode":            string(c.KPIMode),
		"allow_retry":         c.AllowRetry,
	}
}

func (b *Backend) operationJSON(op *operationRec) map[string]any {
	errs := make([]map[string]any, 0, len(op.errors))
	for _, e := range op.errors {
		errs = append(errs, map[string]any{"error_type": string(e.Type), "description": e.Description})
	}
	out := map[string]any{
		"id":                  op.id,
		"submission_id":       op.submission,
		"operation_number":    op.number,
		"operation_reference": op.reference,
		"started_at":          timeJSON(&op.startedAt),
		"completed_at":        timeJSON(op.completedAt),
		"has_error":           op.hasError,
		"is_approved":         op.isApproved,
		"errors":              errs,
	}
	if op.completedAt != nil {
		out["duration_seconds"] = int64(op.completedAt.Sub(op.startedAt) / time.Second)
	}
	return out
}

func (b *Backend) submissionJSON(sub *submissionRec) map[string]any {
	out := map[string]any{
		"id":                 sub.id,
		"challenge_id":       sub.challengeID,
		"user_id":            sub.studentID,
		"submission_type":    string(sub.kind),
		"status":             string(sub.status),
		"started_at":         timeJSON(&sub.startedAt),
		"completed_at":       timeJSON(sub.completedAt),
		"is_approved":        sub.isApproved,
		"is_retry_allowed":   sub.retryAllowed,
		"retry_count":        sub.retryCount,
		"total_time_minutes": sub.totalMinutes,
		"user":               map[string]any{"id": sub.studentID, "full_name": fmt.Sprintf("Student %d", sub.studentID)},
	}
	if sub.notes != "" {
		out["trainer_notes"] = sub.notes
	}
	if sub.kind == model.ChallengeSummary {
		errs := make([]map[string]any, 0, len(sub.errors))
		for _, e := range sub.errors {
			item := map[string]any{
				"id":          e.ID,
				"error_type":  string(e.Type),
				"description": e.Description,
				"created_at":  timeJSON(&e.CreatedAt),
			}
			if e.OperationReference != "" {
				item["operation_reference"] = e.OperationReference
			}
			errs = append(errs, item)
		}
		out["errors"] = errs
		out["total_operations"] = sub.totalOps
		out["errors_count"] = len(errs)
		return out
	}
	withErrors := 0
	completed := 0
	for _, op := range b.operations[sub.id] {
		if op.hasError {
			withErrors++
		}
		if op.completedAt != nil {
			completed++
		}
	}
	out["total_operations"] = completed
	out["errors_summary"] = map[string]any{"operations_with_errors": withErrors}
	return out
}

func (b *Backend) lessonJSON(p *lessonRec) map[string]any {
	elapsed := p.accumulated
	if p.runningSince != nil {
		elapsed += int64(b.now.Sub(*p.runningSince) / time.Second)
	}
	return map[string]any{
		"id":                  p.id,
		"lesson_id":           p.lessonID,
		"student_id":          p.studentID,
		"status":              string(p.status),
		"accumulated_seconds": p.accumulated,
		"elapsed_seconds":     elapsed,
		"is_paused":           p.status == model.LessonPaused,
		"student_confirmed":   p.confirmed,
		"is_approved":         p.approved,
		"lesson": map[string]any{
			"title":             p.title,
			"started_by":        string(p.startedBy),
			"estimated_minutes": p.estimated,
		},
	}
}
