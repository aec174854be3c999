package testkit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/marceloligiero/tradehub/internal/model"
)

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (b *Backend) routes(mux *http.ServeMux) {
	b.handle(mux, "POST /api/auth/login", b.login)
	b.handle(mux, "GET /api/auth/me", func(*http.Request) (int, any) {
		return http.StatusOK, b.userJSON()
	})
	b.handle(mux, "GET /api/challenges/{id}", b.getChallenge)
	b.handle(mux, "POST /api/challenges/submit/complete/start/{id}/self", b.startSelf)
	b.handle(mux, "POST /api/challenges/submit/summary/{id}", b.submitSummary)
	b.handle(mux, "GET /api/challenges/submissions/{id}", b.getSubmission)
	b.handle(mux, "GET /api/challenges/submissions/{id}/operations", b.listOperations)
	b.handle(mux, "POST /api/challenges/submissions/{id}/operations/start", b.startOperation)
	b.handle(mux, "POST /api/challenges/operations/{id}/finish", b.finishOperation)
	b.handle(mux, "POST /api/challenges/submissions/{id}/submit-for-review", b.submitForReview)
	b.handle(mux, "POST /api/challenges/operations/{id}/classify", b.classify)
	b.handle(mux, "POST /api/challenges/submissions/{id}/finalize-review", b.finalizeReview)
	b.handle(mux, "POST /api/challenges/submissions/{id}/manual-finalize", b.manualFinalize)
	b.handle(mux, "POST /api/challenges/submissions/{id}/allow-retry", b.allowRetry)
	b.handle(mux, "POST /api/challenges/submissions/{id}/start-retry", b.startRetry)
	b.handle(mux, "GET /api/lesson-progress/{id}", b.getLesson)
	b.handle(mux, "POST /api/lessons/{lesson}/release/{student}", b.releaseLesson)
	b.handle(mux, "POST /api/lesson-progress/{id}/{action}", b.lessonAction)
}

func (b *Backend) userJSON() map[string]any {
	return map[string]any{
		"id":        b.user.ID,
		"email":     b.user.Email,
		"full_name": b.user.Name,
		"role":      string(b.user.Role),
	}
}

func (b *Backend) login(r *http.Request) (int, any) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil || in.Password == "" {
		return http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]any{{"msg": "password required"}}}
	}
	if !strings.EqualFold(in.Email, b.user.Email) || in.Password == "wrong" {
		return http.StatusBadRequest, detail("Incorrect email or password")
	}
	return http.StatusOK, map[string]any{
		"access_token": b.token,
		"token_type":   "bearer",
		"user":         b.userJSON(),
	}
}

func (b *Backend) getChallenge(r *http.Request) (int, any) {
	c, ok := b.challenges[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Challenge not found")
	}
	return http.StatusOK, b.challengeJSON(c)
}

func (b *Backend) startSelf(r *http.Request) (int, any) {
	challengeID := pathID(r, "id")
	if _, ok := b.challenges[challengeID]; !ok {
		return http.StatusNotFound, detail("Challenge not found")
	}
	for _, sub := range b.submissions {
		if sub.challengeID == challengeID && sub.studentID == b.user.ID && sub.status == model.StatusInProgress {
			return http.StatusOK, b.submissionJSON(sub)
		}
	}
	return http.StatusOK, b.submissionJSON(b.newSubmission(challengeID, b.user.ID, model.ChallengeComplete))
}

func (b *Backend) submitSummary(r *http.Request) (int, any) {
	challengeID := pathID(r, "id")
	if _, ok := b.challenges[challengeID]; !ok {
		return http.StatusNotFound, detail("Challenge not found")
	}
	var in struct {
		StudentID        int64   `json:"student_id"`
		TotalOperations  int     `json:"total_operations"`
		TotalTimeMinutes float64 `json:"total_time_minutes"`
		Errors           []struct {
			ErrorType          string  `json:"error_type"`
			Description        string  `json:"description"`
			OperationReference *string `json:"operation_reference"`
		} `json:"errors"`
	}
	if err := decode(r, &in); err != nil {
		return http.StatusUnprocessableEntity, detail("invalid body")
	}
	sub := b.newSubmission(challengeID, in.StudentID, model.ChallengeSummary)
	sub.status = model.StatusSubmitted
	sub.totalOps = in.TotalOperations
	sub.totalMinutes = in.TotalTimeMinutes
	for _, e := range in.Errors {
		b.nextID++
		se := model.SubmissionError{
			ID:          b.nextID,
			Type:        model.ErrorType(e.ErrorType),
			Description: e.Description,
			CreatedAt:   b.now,
		}
		if e.OperationReference != nil {
			se.OperationReference = *e.OperationReference
		}
		sub.errors = append(sub.errors, se)
	}
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) getSubmission(r *http.Request) (int, any) {
	sub, ok := b.submissions[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) listOperations(r *http.Request) (int, any) {
	id := pathID(r, "id")
	if _, ok := b.submissions[id]; !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	ops := make([]map[string]any, 0, len(b.operations[id]))
	for _, op := range b.operations[id] {
		ops = append(ops, b.operationJSON(op))
	}
	return http.StatusOK, ops
}

func (b *Backend) startOperation(r *http.Request) (int, any) {
	id := pathID(r, "id")
	sub, ok := b.submissions[id]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	if sub.status != model.StatusInProgress {
		return http.StatusBadRequest, detail("Submission is not in progress")
	}
	var in struct {
		OperationReference string `json:"operation_reference"`
	}
	if err := decode(r, &in); err != nil || strings.TrimSpace(in.OperationReference) == "" {
		return http.StatusUnprocessableEntity, detail("operation_reference is required")
	}
	for _, op := range b.operations[id] {
		if op.completedAt == nil {
			return http.StatusBadRequest, detail("There is already an operation in progress")
		}
	}
	return http.StatusOK, b.operationJSON(b.newOperation(id, in.OperationReference))
}

func (b *Backend) finishOperation(r *http.Request) (int, any) {
	op, ok := b.opsByID[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Operation not found")
	}
	if op.completedAt != nil {
		return http.StatusBadRequest, detail("Operation already finished")
	}
	at := b.now
	op.completedAt = &at
	return http.StatusOK, b.operationJSON(op)
}

func (b *Backend) submitForReview(r *http.Request) (int, any) {
	sub, ok := b.submissions[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	completed := 0
	for _, op := range b.operations[sub.id] {
		if op.completedAt == nil {
			return http.StatusBadRequest, detail("Finish the open operation first")
		}
		completed++
	}
	if completed < b.challenges[sub.challengeID].OperationsRequired {
		return http.StatusBadRequest, detail("Not all operations are completed")
	}
	sub.status = model.StatusPendingReview
	sub.totalMinutes = b.now.Sub(sub.startedAt).Minutes()
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) classify(r *http.Request) (int, any) {
	op, ok := b.opsByID[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Operation not found")
	}
	if op.completedAt == nil {
		return http.StatusBadRequest, detail("Operation is not finished")
	}
	var in struct {
		HasError bool `json:"has_error"`
		Errors   []struct {
			ErrorType   string `json:"error_type"`
			Description string `json:"description"`
		} `json:"errors"`
	}
	if err := decode(r, &in); err != nil {
		return http.StatusUnprocessableEntity, detail("invalid body")
	}
	op.hasError = in.HasError
	op.errors = nil
	for _, e := range in.Errors {
		op.errors = append(op.errors, model.OperationError{Type: model.ErrorType(e.ErrorType), Description: e.Description})
	}
	approved := !in.HasError
	op.isApproved = &approved
	return http.StatusOK, b.operationJSON(op)
}

func (b *Backend) decide(sub *submissionRec, approve bool) {
	if approve {
		sub.status = model.StatusApproved
	} else {
		sub.status = model.StatusRejected
	}
	sub.isApproved = &approve
	at := b.now
	sub.completedAt = &at
}

func (b *Backend) finalizeReview(r *http.Request) (int, any) {
	sub, ok := b.submissions[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	if b.challenges[sub.challengeID].KPIMode == model.KPIManual {
		return http.StatusBadRequest, detail("Use manual finalization for this challenge")
	}
	for _, op := range b.operations[sub.id] {
		if op.completedAt != nil && op.isApproved == nil {
			return http.StatusBadRequest, detail("All operations must be classified")
		}
	}
	b.decide(sub, r.URL.Query().Get("approve") == "true")
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) manualFinalize(r *http.Request) (int, any) {
	sub, ok := b.submissions[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	var in struct {
		Approve      bool    `json:"approve"`
		TrainerNotes *string `json:"trainer_notes"`
	}
	if err := decode(r, &in); err != nil {
		return http.StatusUnprocessableEntity, detail("invalid body")
	}
	b.decide(sub, in.Approve)
	if in.TrainerNotes != nil {
		sub.notes = *in.TrainerNotes
	}
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) allowRetry(r *http.Request) (int, any) {
	sub, ok := b.submissions[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	if sub.isApproved == nil || *sub.isApproved {
		return http.StatusBadRequest, detail("Only rejected submissions can be retried")
	}
	sub.retryAllowed = true
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) startRetry(r *http.Request) (int, any) {
	prev, ok := b.submissions[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Submission not found")
	}
	if !prev.retryAllowed {
		return http.StatusForbidden, detail("Retry is not allowed")
	}
	prev.retryAllowed = false
	sub := b.newSubmission(prev.challengeID, prev.studentID, prev.kind)
	sub.retryCount = prev.retryCount + 1
	return http.StatusOK, b.submissionJSON(sub)
}

func (b *Backend) getLesson(r *http.Request) (int, any) {
	p, ok := b.lessons[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Lesson progress not found")
	}
	return http.StatusOK, b.lessonJSON(p)
}

func (b *Backend) releaseLesson(r *http.Request) (int, any) {
	lessonID := pathID(r, "lesson")
	studentID := pathID(r, "student")
	for _, p := range b.lessons {
		if p.lessonID == lessonID && p.studentID == studentID {
			if p.status == model.LessonNotStarted {
				p.status = model.LessonReleased
			}
			return http.StatusOK, b.lessonJSON(p)
		}
	}
	b.nextID++
	p := &lessonRec{
		id:        b.nextID,
		lessonID:  lessonID,
		studentID: studentID,
		startedBy: model.RoleTrainer,
		status:    model.LessonReleased,
	}
	b.lessons[p.id] = p
	return http.StatusOK, b.lessonJSON(p)
}

func (b *Backend) stopClock(p *lessonRec) {
	if p.runningSince == nil {
		return
	}
	p.accumulated += int64(b.now.Sub(*p.runningSince) / time.Second)
	p.runningSince = nil
}

func (b *Backend) lessonAction(r *http.Request) (int, any) {
	p, ok := b.lessons[pathID(r, "id")]
	if !ok {
		return http.StatusNotFound, detail("Lesson progress not found")
	}
	now := b.now
	switch r.PathValue("action") {
	case "start":
		if p.status != model.LessonReleased && p.status != model.LessonNotStarted {
			return http.StatusBadRequest, detail("Lesson already started")
		}
		p.status = model.LessonInProgress
		p.runningSince = &now
	case "pause":
		if p.status != model.LessonInProgress {
			return http.StatusBadRequest, detail("Lesson is not running")
		}
		b.stopClock(p)
		p.status = model.LessonPaused
	case "resume":
		if p.status != model.LessonPaused {
			return http.StatusBadRequest, detail("Lesson is not paused")
		}
		p.status = model.LessonInProgress
		p.runningSince = &now
	case "finish":
		if p.status != model.LessonInProgress && p.status != model.LessonPaused {
			return http.StatusBadRequest, detail("Lesson is not started")
		}
		b.stopClock(p)
		p.status = model.LessonCompleted
	case "confirm":
		if p.status != model.LessonCompleted {
			return http.StatusBadRequest, detail("Lesson is not finished")
		}
		p.confirmed = true
	case "approve":
		if !p.confirmed {
			return http.StatusBadRequest, detail("Student has not confirmed")
		}
		p.approved = true
	default:
		return http.StatusNotFound, detail("Unknown action")
	}
	return http.StatusOK, b.lessonJSON(p)
}
