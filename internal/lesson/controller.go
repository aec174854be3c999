// Package lesson follows a student's timed lesson session from release to
// approval.
package lesson

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/poll"
	"github.com/marceloligiero/tradehub/internal/timer"
)

// DefaultPollInterval is how often an unfinished lesson is re-fetched.
const DefaultPollInterval = 5 * time.Second

// API is the part of the gateway client the controller needs.
type API interface {
	GetLessonProgress(ctx context.Context, progressID int64) (model.LessonProgress, error)
	ReleaseLesson(ctx context.Context, lessonID, studentID int64) (model.LessonProgress, error)
	LessonProgressAction(ctx context.Context, progressID int64, action api.LessonAction) (model.LessonProgress, error)
}

// Local validation failures. None of them issues a request.
var (
	ErrNotLoaded      = apperr.Validation("Lesson progress is not loaded.")
	ErrTrainerOnly    = apperr.Validation("Only a trainer can do that.")
	ErrActionInFlight = apperr.Validation("That action is already in progress.")
)

// Actions in the order they are offered.
var Actions = []api.LessonAction{
	api.LessonStart,
	api.LessonPause,
	api.LessonResume,
	api.LessonFinish,
	api.LessonConfirm,
	api.LessonApprove,
}

// Controller holds one lesson progress record and a live elapsed display.
type Controller struct {
	api   API
	actor model.User
	log   *zap.Logger
	clock func() time.Time
	recon *timer.Reconstructor

	mu       sync.Mutex
	loaded   bool
	progress model.LessonProgress
	busy     map[api.LessonAction]bool
	gen      uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the local clock of the elapsed display.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.clock = now }
}

// WithLogger sets the controller logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// New returns a controller acting as actor.
func New(client API, actor model.User, opts ...Option) *Controller {
	c := &Controller{
		api:   client,
		actor: actor,
		log:   zap.NewNop(),
		clock: time.Now,
		busy:  map[api.LessonAction]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recon = timer.NewReconstructor(c.clock)
	return c
}

// Load fetches the progress record.
func (c *Controller) Load(ctx context.Context, progressID int64) error {
	p, err := c.api.GetLessonProgress(ctx, progressID)
	if err != nil {
		return err
	}
	c.adopt(p)
	return nil
}

// Release makes a lesson startable for a student and adopts the result.
func (c *Controller) Release(ctx context.Context, lessonID, studentID int64) (model.LessonProgress, error) {
	if !c.actor.Role.Grades() {
		return model.LessonProgress{}, ErrTrainerOnly
	}
	p, err := c.api.ReleaseLesson(ctx, lessonID, studentID)
	if err != nil {
		return model.LessonProgress{}, err
	}
	c.adopt(p)
	c.log.Info("lesson released", zap.Int64("lesson_id", lessonID), zap.Int64("student_id", studentID))
	return p, nil
}

// adopt replaces the snapshot and restarts the display from its total.
func (c *Controller) adopt(p model.LessonProgress) {
	c.mu.Lock()
	c.loaded = true
	c.progress = p
	c.gen++
	c.recon.StoreLesson(p)
	c.mu.Unlock()
}

// Progress returns the held snapshot.
func (c *Controller) Progress() model.LessonProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Elapsed returns the live elapsed seconds.
func (c *Controller) Elapsed() int64 {
	return c.recon.Elapsed()
}

// Delayed reports whether the live elapsed time is past the estimate.
func (c *Controller) Delayed() bool {
	p := c.Progress()
	if p.EstimatedMinutes <= 0 {
		return p.IsDelayed
	}
	return c.Elapsed() > int64(p.EstimatedMinutes)*60
}

// Done reports whether the lesson is completed, confirmed and approved.
func (c *Controller) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.progress.Done()
}

// Busy reports whether action is in flight.
func (c *Controller) Busy(action api.LessonAction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[action]
}

// Check reports why the actor may not apply action now, or nil when it may.
func (c *Controller) Check(action api.LessonAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	return check(c.actor, c.progress, action)
}

// Available lists the actions the actor may apply now.
func (c *Controller) Available() []api.LessonAction {
	var out []api.LessonAction
	for _, a := range Actions {
		if c.Check(a) == nil {
			out = append(out, a)
		}
	}
	return out
}

func drives(actor model.User, p model.LessonProgress) bool {
	if p.StartedBy == model.RoleStudent {
		return actor.Role == model.RoleStudent && actor.ID == p.StudentID
	}
	return actor.Role.Grades()
}

func check(actor model.User, p model.LessonProgress, action api.LessonAction) error {
	switch action {
	case api.LessonStart, api.LessonPause, api.LessonResume, api.LessonFinish:
		if !drives(actor, p) {
			if p.StartedBy == model.RoleStudent {
				return apperr.Validation("This lesson is driven by the student.")
			}
			return apperr.Validation("This lesson is driven by the trainer.")
		}
	case api.LessonConfirm:
		if actor.Role != model.RoleStudent || actor.ID != p.StudentID {
			return apperr.Validation("Only the student can confirm the lesson.")
		}
	case api.LessonApprove:
		if !actor.Role.Grades() {
			return ErrTrainerOnly
		}
	default:
		return apperr.Validation(fmt.Sprintf("Unknown lesson action %q.", action))
	}

	switch action {
	case api.LessonStart:
		if p.Status != model.LessonReleased && p.Status != model.LessonNotStarted {
			return apperr.Validation("The lesson has already started.")
		}
	case api.LessonPause:
		if !p.Running() {
			return apperr.Validation("The lesson is not running.")
		}
	case api.LessonResume:
		if !p.IsPaused || p.Status == model.LessonCompleted {
			return apperr.Validation("The lesson is not paused.")
		}
	case api.LessonFinish:
		if p.Status != model.LessonInProgress && p.Status != model.LessonPaused {
			return apperr.Validation("The lesson is not in progress.")
		}
	case api.LessonConfirm:
		if p.Status != model.LessonCompleted {
			return apperr.Validation("The lesson is not finished yet.")
		}
		if p.StudentConfirmed {
			return apperr.Validation("The lesson was already confirmed.")
		}
	case api.LessonApprove:
		if p.Status != model.LessonCompleted || !p.StudentConfirmed {
			return apperr.Validation("The student has not confirmed the lesson yet.")
		}
		if p.IsApproved {
			return apperr.Validation("The lesson was already approved.")
		}
	}
	return nil
}

// Apply performs action and adopts the returned snapshot.
func (c *Controller) Apply(ctx context.Context, action api.LessonAction) (model.LessonProgress, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return model.LessonProgress{}, ErrNotLoaded
	}
	if err := check(c.actor, c.progress, action); err != nil {
		c.mu.Unlock()
		return model.LessonProgress{}, err
	}
	if c.busy[action] {
		c.mu.Unlock()
		return model.LessonProgress{}, ErrActionInFlight
	}
	c.busy[action] = true
	id := c.progress.ID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.busy, action)
		c.mu.Unlock()
	}()

	p, err := c.api.LessonProgressAction(ctx, id, action)
	if err != nil {
		return model.LessonProgress{}, err
	}
	c.adopt(p)
	c.log.Info("lesson action applied",
		zap.Int64("progress_id", id),
		zap.String("action", string(action)),
		zap.String("status", string(p.Status)))
	return p, nil
}

// Refresh re-fetches the snapshot. A result is dropped when an action
// landed while it was in flight.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	id := c.progress.ID
	gen := c.gen
	c.mu.Unlock()

	p, err := c.api.GetLessonProgress(ctx, id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	c.progress = p
	c.gen++
	c.recon.StoreLesson(p)
	return nil
}

// Poll is a poll.Func that continues until the lesson is done.
func (c *Controller) Poll(ctx context.Context) (bool, error) {
	if c.Done() {
		return false, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return true, err
	}
	return !c.Done(), nil
}

// StartPolling re-fetches every interval until the lesson is done or the
// returned task is stopped.
func (c *Controller) StartPolling(ctx context.Context, interval time.Duration) *poll.Task {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return poll.Start(ctx, interval, c.Poll, c.log.Named("poll"))
}
