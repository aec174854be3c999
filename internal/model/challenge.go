// Package model defines shared data structures.
package model

// ChallengeType selects how a challenge attempt is recorded.
type ChallengeType string

const (
	ChallengeComplete ChallengeType = "COMPLETE"
	ChallengeSummary  ChallengeType = "SUMMARY"
)

// KPIMode selects who decides pass/fail.
type KPIMode string

const (
	KPIAuto   KPIMode = "AUTO"
	KPIManual KPIMode = "MANUAL"
)

// Challenge is a timed exercise template. It does not change during an attempt.
type Challenge struct {
	ID                 int64
	Title              string
	Type               ChallengeType
	OperationsRequired int
	TimeLimitMinutes   int
	TargetMPU          float64
	MaxErrors          int
	UseVolumeKPI       bool
	UseMPUKPI          bool
	UseErrorsKPI       bool
	KPIMode            KPIMode
	AllowRetry         bool
}

// Manual reports whether the trainer decides the outcome.
func (c Challenge) Manual() bool {
	return c.KPIMode == KPIManual
}
