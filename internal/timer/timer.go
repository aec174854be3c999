// Package timer reconstructs elapsed time between authoritative server snapshots.
package timer

import (
	"sync"
	"time"

	"github.com/marceloligiero/tradehub/internal/model"
)

// Snapshot is the last authoritative value and the local instant it was stored.
type Snapshot struct {
	BaseSeconds int64
	Running     bool
	FetchedAt   time.Time
}

// Reconcile extrapolates a display value from a snapshot. A frozen snapshot
// returns its base verbatim; a running one adds the whole seconds elapsed since
// FetchedAt. A clock reading before FetchedAt counts as zero delta.
func Reconcile(s Snapshot, now time.Time) int64 {
	if !s.Running {
		return s.BaseSeconds
	}
	delta := now.Sub(s.FetchedAt)
	if delta < 0 {
		delta = 0
	}
	return s.BaseSeconds + int64(delta/time.Second)
}

// LessonSnapshot builds a snapshot from a lesson progress payload. The
// payload's ElapsedSeconds is the server total at fetch time; paused and
// completed sessions report it verbatim.
func LessonSnapshot(p model.LessonProgress, fetchedAt time.Time) Snapshot {
	return Snapshot{BaseSeconds: p.ElapsedSeconds, Running: p.Running(), FetchedAt: fetchedAt}
}

// OperationElapsed returns the seconds spent on an operation. Operations
// cannot be paused, so an open one is measured from StartedAt directly.
func OperationElapsed(op model.Operation, now time.Time) int64 {
	if !op.Open() {
		if op.DurationSeconds != nil {
			return *op.DurationSeconds
		}
		return clampSeconds(op.CompletedAt.Sub(op.StartedAt))
	}
	if op.StartedAt.IsZero() {
		return 0
	}
	return clampSeconds(now.Sub(op.StartedAt))
}

func clampSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Reconstructor keeps the latest snapshot for a live display. Store replaces
// the previous snapshot entirely, so extrapolation never accumulates drift.
type Reconstructor struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// NewReconstructor returns a Reconstructor reading the given clock.
// A nil clock means time.Now.
func NewReconstructor(now func() time.Time) *Reconstructor {
	if now == nil {
		now = time.Now
	}
	return &Reconstructor{now: now}
}

// Store records a fresh authoritative value and resets the fetch timestamp.
func (r *Reconstructor) Store(baseSeconds int64, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = Snapshot{BaseSeconds: baseSeconds, Running: running, FetchedAt: r.now()}
}

// StoreLesson records a lesson progress payload.
func (r *Reconstructor) StoreLesson(p model.LessonProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = LessonSnapshot(p, r.now())
}

// Snapshot returns the current snapshot.
func (r *Reconstructor) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Elapsed returns the display value at the current clock reading.
func (r *Reconstructor) Elapsed() int64 {
	r.mu.Lock()
	snap := r.snap
	r.mu.Unlock()
	return Reconcile(snap, r.now())
}
