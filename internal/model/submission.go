package model

import "time"

// SubmissionStatus is the lifecycle state of a challenge attempt.
type SubmissionStatus string

const (
	StatusInProgress    SubmissionStatus = "IN_PROGRESS"
	StatusPendingReview SubmissionStatus = "PENDING_REVIEW"
	StatusSubmitted     SubmissionStatus = "SUBMITTED"
	StatusCompleted     SubmissionStatus = "COMPLETED"
	StatusApproved      SubmissionStatus = "APPROVED"
	StatusRejected      SubmissionStatus = "REJECTED"
)

// Terminal reports whether the trainer has already decided the attempt.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ErrorType classifies a graded mistake.
type ErrorType string

const (
	ErrorMethodology ErrorType = "METHODOLOGY"
	ErrorKnowledge   ErrorType = "KNOWLEDGE"
	ErrorDetail      ErrorType = "DETAIL"
	ErrorProcedure   ErrorType = "PROCEDURE"
)

// ErrorTypes lists the accepted error types in display order.
var ErrorTypes = []ErrorType{ErrorMethodology, ErrorKnowledge, ErrorDetail, ErrorProcedure}

// MaxErrorDescription is the longest accepted error description, in characters.
const MaxErrorDescription = 160

// OperationError is one classified mistake inside an operation.
type OperationError struct {
	Type        ErrorType `validate:"required,oneof=METHODOLOGY KNOWLEDGE DETAIL PROCEDURE"`
	Description string    `validate:"notblank,max=160"`
}

// Operation is one timed unit of work inside a COMPLETE submission.
type Operation struct {
	ID              int64
	SubmissionID    int64
	Number          int
	Reference       string
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds *int64
	HasError        bool
	IsApproved      *bool
	Errors          []OperationError
}

// Open reports whether the operation has not been finished yet.
func (o Operation) Open() bool {
	return o.CompletedAt == nil
}

// Classified reports whether a trainer has graded the operation.
func (o Operation) Classified() bool {
	return o.IsApproved != nil
}

// SubmissionError is a flat error record of a SUMMARY submission.
type SubmissionError struct {
	ID                 int64
	Type               ErrorType
	Description        string
	OperationReference string
	CreatedAt          time.Time
}

// SubmissionDetail carries the variant-specific part of a submission.
// It is either CompleteDetail or SummaryDetail.
type SubmissionDetail interface {
	Kind() ChallengeType
}

// CompleteDetail belongs to operation-by-operation submissions.
type CompleteDetail struct {
	OperationsWithErrors int
}

// Kind implements SubmissionDetail.
func (CompleteDetail) Kind() ChallengeType { return ChallengeComplete }

// SummaryDetail belongs to aggregate self-report submissions.
type SummaryDetail struct {
	Errors []SubmissionError
}

// Kind implements SubmissionDetail.
func (SummaryDetail) Kind() ChallengeType { return ChallengeSummary }

// Submission is one student's attempt at a challenge.
type Submission struct {
	ID               int64
	ChallengeID      int64
	StudentID        int64
	StudentName      string
	Status           SubmissionStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	TotalOperations  int
	TotalTimeMinutes float64
	CalculatedMPU    float64
	ErrorsCount      int
	IsApproved       *bool
	IsRetryAllowed   bool
	RetryCount       int
	TrainerNotes     string
	Detail           SubmissionDetail
}

// Kind returns the submission variant; submissions without detail count as COMPLETE.
func (s Submission) Kind() ChallengeType {
	if s.Detail == nil {
		return ChallengeComplete
	}
	return s.Detail.Kind()
}

// Rejected reports whether the trainer refused the attempt.
func (s Submission) Rejected() bool {
	return s.IsApproved != nil && !*s.IsApproved
}
