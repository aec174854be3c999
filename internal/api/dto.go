package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/marceloligiero/tradehub/internal/model"
)

// apiTime accepts RFC 3339 timestamps as well as the zone-less form the
// backend emits for naive UTC datetimes.
type apiTime struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *apiTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		parsed, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func timePtr(t *apiTime) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type userDTO struct {
	ID       int64   `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"full_name"`
	Name     *string `json:"name"`
	Role     string  `json:"role"`
}

type loginDTO struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        *userDTO `json:"user"`
}

type challengeDTO struct {
	ID                 int64   `json:"id"`
	Title              string  `json:"title"`
	ChallengeType      *string `json:"challenge_type"`
	OperationsRequired int     `json:"operations_required"`
	TimeLimitMinutes   int     `json:"time_limit_minutes"`
	TargetMPU          float64 `json:"target_mpu"`
	MaxErrors          int     `json:"max_errors"`
	UseVolumeKPI       *bool   `json:"use_volume_kpi"`
	UseMPUKPI          *bool   `json:"use_mpu_kpi"`
	UseErrorsKPI       *bool   `json:"use_errors_kpi"`
	KPIMode            *string `json:"kpi_mode"`
	AllowRetry         *bool   `json:"allow_retry"`
}

type operationErrorDTO struct {
	ErrorType   string `json:"error_type"`
	Description string `json:"description"`
}

type operationDTO struct {
	ID                 int64               `json:"id"`
	SubmissionID       int64               `json:"submission_id"`
	OperationNumber    int                 `json:"operation_number"`
	OperationReference string              `json:"operation_reference"`
	StartedAt          *apiTime            `json:"started_at"`
	CompletedAt        *apiTime            `json:"completed_at"`
	DurationSeconds    *int64              `json:"duration_seconds"`
	HasError           bool                `json:"has_error"`
	IsApproved         *bool               `json:"is_approved"`
	Errors             []operationErrorDTO `json:"errors"`
}

type submissionErrorDTO struct {
	ID                 int64    `json:"id"`
	ErrorType          string   `json:"error_type"`
	Description        string   `json:"description"`
	OperationReference *string  `json:"operation_reference"`
	CreatedAt          *apiTime `json:"created_at"`
}

type errorsSummaryDTO struct {
	OperationsWithErrors *int `json:"operations_with_errors"`
}

type submissionDTO struct {
	ID               int64                `json:"id"`
	ChallengeID      int64                `json:"challenge_id"`
	UserID           int64                `json:"user_id"`
	StudentID        *int64               `json:"student_id"`
	User             *userDTO             `json:"user"`
	SubmissionType   *string              `json:"submission_type"`
	Status           string               `json:"status"`
	StartedAt        *apiTime             `json:"started_at"`
	CompletedAt      *apiTime             `json:"completed_at"`
	TotalOperations  *int                 `json:"total_operations"`
	TotalTimeMinutes *float64             `json:"total_time_minutes"`
	CalculatedMPU    *float64             `json:"calculated_mpu"`
	ErrorsCount      *int                 `json:"errors_count"`
	ErrorsSummary    *errorsSummaryDTO    `json:"errors_summary"`
	IsApproved       *bool                `json:"is_approved"`
	IsRetryAllowed   *bool                `json:"is_retry_allowed"`
	RetryCount       *int                 `json:"retry_count"`
	TrainerNotes     *string              `json:"trainer_notes"`
	Errors           []submissionErrorDTO `json:"errors"`
}

type lessonDTO struct {
	Title            string  `json:"title"`
	StartedBy        *string `json:"started_by"`
	EstimatedMinutes *int    `json:"estimated_minutes"`
}

type lessonProgressDTO struct {
	ID                 int64      `json:"id"`
	LessonID           int64      `json:"lesson_id"`
	Lesson             *lessonDTO `json:"lesson"`
	StudentID          int64      `json:"student_id"`
	Status             *string    `json:"status"`
	StartedBy          *string    `json:"started_by"`
	EstimatedMinutes   *int       `json:"estimated_minutes"`
	AccumulatedSeconds *int64     `json:"accumulated_seconds"`
	ElapsedSeconds     *int64     `json:"elapsed_seconds"`
	IsPaused           bool       `json:"is_paused"`
	StudentConfirmed   bool       `json:"student_confirmed"`
	IsApproved         bool       `json:"is_approved"`
	IsDelayed          *bool      `json:"is_delayed"`
	StartedAt          *apiTime   `json:"started_at"`
	CompletedAt        *apiTime   `json:"completed_at"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeUser(d *userDTO) model.User {
	if d == nil {
		return model.User{}
	}
	name := strings.TrimSpace(str(d.FullName))
	if name == "" {
		name = strings.TrimSpace(str(d.Name))
	}
	role := model.Role(upper(d.Role))
	if role == "" {
		role = model.RoleStudent
	}
	return model.User{ID: d.ID, Email: d.Email, Name: name, Role: role}
}

func normalizeChallenge(d challengeDTO) model.Challenge {
	kind := model.ChallengeType(upper(str(d.ChallengeType)))
	if kind != model.ChallengeSummary {
		kind = model.ChallengeComplete
	}
	mode := model.KPIMode(upper(str(d.KPIMode)))
	if mode != model.KPIManual {
		mode = model.KPIAuto
	}
	return model.Challenge{
		ID:                 d.ID,
		Title:              d.Title,
		Type:               kind,
		OperationsRequired: d.OperationsRequired,
		TimeLimitMinutes:   d.TimeLimitMinutes,
		TargetMPU:          d.TargetMPU,
		MaxErrors:          d.MaxErrors,
		UseVolumeKPI:       boolOr(d.UseVolumeKPI, true),
		UseMPUKPI:          boolOr(d.UseMPUKPI, true),
		UseErrorsKPI:       boolOr(d.UseErrorsKPI, true),
		KPIMode:            mode,
		AllowRetry:         boolOr(d.AllowRetry, false),
	}
}

func normalizeOperation(d operationDTO) model.Operation {
	op := model.Operation{
		ID:              d.ID,
		SubmissionID:    d.SubmissionID,
		Number:          d.OperationNumber,
		Reference:       d.OperationReference,
		CompletedAt:     timePtr(d.CompletedAt),
		DurationSeconds: d.DurationSeconds,
		HasError:        d.HasError,
		IsApproved:      d.IsApproved,
	}
	if d.StartedAt != nil {
		op.StartedAt = d.StartedAt.Time
	}
	if len(d.Errors) > 0 {
		op.Errors = make([]model.OperationError, 0, len(d.Errors))
		for _, e := range d.Errors {
			op.Errors = append(op.Errors, model.OperationError{
				Type:        model.ErrorType(upper(e.ErrorType)),
				Description: e.Description,
			})
		}
	}
	return op
}

func normalizeOperations(ds []operationDTO) []model.Operation {
	ops := make([]model.Operation, 0, len(ds))
	for _, d := range ds {
		ops = append(ops, normalizeOperation(d))
	}
	return ops
}

// normalizeSubmission resolves every optional or legacy field once, so
// callers never need fallback chains.
func normalizeSubmission(d submissionDTO) model.Submission {
	sub := model.Submission{
		ID:              d.ID,
		ChallengeID:     d.ChallengeID,
		StudentID:       d.UserID,
		Status:          model.SubmissionStatus(upper(d.Status)),
		StartedAt:       timePtr(d.StartedAt),
		CompletedAt:     timePtr(d.CompletedAt),
		TotalOperations: intOr(d.TotalOperations, 0),
		IsApproved:      d.IsApproved,
		IsRetryAllowed:  boolOr(d.IsRetryAllowed, false),
		RetryCount:      intOr(d.RetryCount, 0),
		TrainerNotes:    str(d.TrainerNotes),
	}
	if d.StudentID != nil {
		sub.StudentID = *d.StudentID
	}
	if d.User != nil {
		user := normalizeUser(d.User)
		sub.StudentName = user.Name
		if sub.StudentID == 0 {
			sub.StudentID = user.ID
		}
	}
	if d.TotalTimeMinutes != nil {
		sub.TotalTimeMinutes = *d.TotalTimeMinutes
	}
	if d.CalculatedMPU != nil {
		sub.CalculatedMPU = *d.CalculatedMPU
	}
	if sub.Status == "" {
		sub.Status = model.StatusInProgress
	}

	if model.ChallengeType(upper(str(d.SubmissionType))) == model.ChallengeSummary {
		detail := model.SummaryDetail{}
		for _, e := range d.Errors {
			se := model.SubmissionError{
				ID:                 e.ID,
				Type:               model.ErrorType(upper(e.ErrorType)),
				Description:        e.Description,
				OperationReference: str(e.OperationReference),
			}
			if e.CreatedAt != nil {
				se.CreatedAt = e.CreatedAt.Time
			}
			detail.Errors = append(detail.Errors, se)
		}
		sub.ErrorsCount = intOr(d.ErrorsCount, len(detail.Errors))
		sub.Detail = detail
		return sub
	}

	detail := model.CompleteDetail{}
	switch {
	case d.ErrorsSummary != nil && d.ErrorsSummary.OperationsWithErrors != nil:
		detail.OperationsWithErrors = *d.ErrorsSummary.OperationsWithErrors
	case d.ErrorsCount != nil:
		detail.OperationsWithErrors = *d.ErrorsCount
	}
	sub.ErrorsCount = detail.OperationsWithErrors
	sub.Detail = detail
	return sub
}

func normalizeLessonProgress(d lessonProgressDTO) model.LessonProgress {
	p := model.LessonProgress{
		ID:               d.ID,
		LessonID:         d.LessonID,
		StudentID:        d.StudentID,
		Status:           model.LessonStatus(upper(str(d.Status))),
		IsPaused:         d.IsPaused,
		StudentConfirmed: d.StudentConfirmed,
		IsApproved:       d.IsApproved,
		StartedAt:        timePtr(d.StartedAt),
		CompletedAt:      timePtr(d.CompletedAt),
	}
	startedBy := upper(str(d.StartedBy))
	estimated := d.EstimatedMinutes
	if d.Lesson != nil {
		p.LessonTitle = d.Lesson.Title
		if startedBy == "" {
			startedBy = upper(str(d.Lesson.StartedBy))
		}
		if estimated == nil {
			estimated = d.Lesson.EstimatedMinutes
		}
	}
	p.StartedBy = model.Role(startedBy)
	if p.StartedBy != model.RoleStudent {
		p.StartedBy = model.RoleTrainer
	}
	p.EstimatedMinutes = intOr(estimated, 0)
	if p.Status == "" {
		p.Status = model.LessonNotStarted
	}
	if p.Status == model.LessonPaused {
		p.IsPaused = true
	}
	if d.AccumulatedSeconds != nil {
		p.AccumulatedSeconds = *d.AccumulatedSeconds
	}
	p.ElapsedSeconds = p.AccumulatedSeconds
	if d.ElapsedSeconds != nil {
		p.ElapsedSeconds = *d.ElapsedSeconds
	}
	if d.IsDelayed != nil {
		p.IsDelayed = *d.IsDelayed
	} else if p.EstimatedMinutes > 0 {
		p.IsDelayed = p.ElapsedSeconds > int64(p.EstimatedMinutes)*60
	}
	return p
}
