package model

import "time"

// Role is the platform role of a user.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTrainer Role = "TRAINER"
	RoleAdmin   Role = "ADMIN"
)

// Grades reports whether the role may review and finalize work.
func (r Role) Grades() bool {
	return r == RoleTrainer || r == RoleAdmin
}

// User is the authenticated identity.
type User struct {
	ID    int64
	Email string
	Name  string
	Role  Role
}

// RecentSubmission is a locally remembered submission the user worked on.
type RecentSubmission struct {
	SubmissionID int64
	ChallengeID  int64
	Role         Role
	Status       SubmissionStatus
	TouchedAt    time.Time
}
