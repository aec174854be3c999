package model

import "time"

// LessonStatus is the lifecycle state of a student's lesson session.
type LessonStatus string

const (
	LessonNotStarted LessonStatus = "NOT_STARTED"
	LessonReleased   LessonStatus = "RELEASED"
	LessonInProgress LessonStatus = "IN_PROGRESS"
	LessonPaused     LessonStatus = "PAUSED"
	LessonCompleted  LessonStatus = "COMPLETED"
)

// LessonProgress is a per-student-per-lesson timed session.
type LessonProgress struct {
	ID                 int64
	LessonID           int64
	LessonTitle        string
	StudentID          int64
	Status             LessonStatus
	StartedBy          Role
	EstimatedMinutes   int
	AccumulatedSeconds int64
	ElapsedSeconds     int64
	IsPaused           bool
	StudentConfirmed   bool
	IsApproved         bool
	IsDelayed          bool
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// Running reports whether the session clock is advancing on the server.
func (p LessonProgress) Running() bool {
	return p.Status == LessonInProgress && !p.IsPaused
}

// Done reports whether the lesson reached its terminal state.
func (p LessonProgress) Done() bool {
	return p.Status == LessonCompleted && p.StudentConfirmed && p.IsApproved
}
