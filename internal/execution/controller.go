// Package execution drives a student through a COMPLETE challenge attempt.
package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/timer"
)

// API is the part of the gateway client the controller needs.
type API interface {
	GetChallenge(ctx context.Context, challengeID int64) (model.Challenge, error)
	StartCompleteSelf(ctx context.Context, challengeID int64) (model.Submission, error)
	GetSubmission(ctx context.Context, submissionID int64) (model.Submission, error)
	ListOperations(ctx context.Context, submissionID int64) ([]model.Operation, error)
	StartOperation(ctx context.Context, submissionID int64, reference string) (model.Operation, error)
	FinishOperation(ctx context.Context, operationID int64) (model.Operation, error)
	SubmitForReview(ctx context.Context, submissionID int64) (model.Submission, error)
	StartRetry(ctx context.Context, submissionID int64) (model.Submission, error)
}

// History records submissions the user worked on.
type History interface {
	TouchSubmission(ctx context.Context, r model.RecentSubmission) error
}

// Local validation failures. None of them issues a request.
var (
	ErrNotLoaded        = apperr.Validation("Challenge is not loaded.")
	ErrNotComplete      = apperr.Validation("This challenge is not executed operation by operation.")
	ErrBlankReference   = apperr.Validation("Enter an operation reference.")
	ErrOperationOpen    = apperr.Validation("Finish the current operation before starting a new one.")
	ErrNoMoreOperations = apperr.Validation("All required operations have been started.")
	ErrNoOpenOperation  = apperr.Validation("There is no operation in progress.")
	ErrNoSubmission     = apperr.Validation("No attempt has been started yet.")
	ErrNotReady         = apperr.Validation("Complete all required operations before submitting.")
	ErrNotConfirmed     = apperr.Validation("Submission was not confirmed.")
	ErrRetryNotAllowed  = apperr.Validation("A retry has not been enabled for this attempt.")
	ErrSubmitted        = apperr.Validation("This attempt was already submitted.")
	ErrActionInFlight   = apperr.Validation("That action is already in progress.")
)

// Action targets for Busy.
const (
	TargetStart  = "start"
	TargetSubmit = "submit"
	TargetRetry  = "retry"
)

// FinishTarget is the Busy target of finishing one operation.
func FinishTarget(operationID int64) string {
	return fmt.Sprintf("finish:%d", operationID)
}

// State is a consistent copy of the controller state.
type State struct {
	Challenge  model.Challenge
	Submission *model.Submission
	Operations []model.Operation
	Progress   Progress
}

// Open returns the running operation, if any.
func (s State) Open() (model.Operation, bool) {
	for _, op := range s.Operations {
		if op.Open() {
			return op, true
		}
	}
	return model.Operation{}, false
}

// CanSubmit reports whether the attempt may be handed in now.
func (s State) CanSubmit() bool {
	return s.Submission != nil && s.Submission.Status == model.StatusInProgress && s.Progress.ReadyToSubmit
}

// Controller holds one attempt. Every server response replaces the held
// snapshot wholesale; requests run outside the lock.
type Controller struct {
	api     API
	history History
	log     *zap.Logger

	mu         sync.Mutex
	loaded     bool
	challenge  model.Challenge
	submission *model.Submission
	operations []model.Operation
	busy       map[string]bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory records every submission the controller touches.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithLogger sets the controller logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// New returns an empty controller.
func New(api API, opts ...Option) *Controller {
	c := &Controller{api: api, log: zap.NewNop(), busy: map[string]bool{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the challenge and, when submissionID is non-zero, the attempt
// to resume. Without a submission the attempt is created on the first start.
func (c *Controller) Load(ctx context.Context, challengeID, submissionID int64) error {
	var (
		challenge model.Challenge
		sub       model.Submission
		ops       []model.Operation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		challenge, err = c.api.GetChallenge(gctx, challengeID)
		return err
	})
	if submissionID != 0 {
		g.Go(func() error {
			var err error
			sub, err = c.api.GetSubmission(gctx, submissionID)
			return err
		})
		g.Go(func() error {
			var err error
			ops, err = c.api.ListOperations(gctx, submissionID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if challenge.Type != model.ChallengeComplete {
		return ErrNotComplete
	}

	c.mu.Lock()
	c.loaded = true
	c.challenge = challenge
	c.submission = nil
	c.operations = nil
	if submissionID != 0 {
		c.submission = &sub
		c.operations = ops
	}
	c.mu.Unlock()
	if submissionID != 0 {
		c.touch(ctx, sub)
	}
	return nil
}

// State returns a copy of the current state with freshly derived progress.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := State{
		Challenge:  c.challenge,
		Operations: append([]model.Operation(nil), c.operations...),
	}
	if c.submission != nil {
		sub := *c.submission
		s.Submission = &sub
	}
	s.Progress = ComputeProgress(c.challenge.OperationsRequired, c.operations)
	return s
}

// Busy reports whether an action on target is in flight.
func (c *Controller) Busy(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[target]
}

func (c *Controller) acquireLocked(target string) error {
	if c.busy[target] {
		return ErrActionInFlight
	}
	c.busy[target] = true
	return nil
}

func (c *Controller) release(target string) {
	c.mu.Lock()
	delete(c.busy, target)
	c.mu.Unlock()
}

// StartOperation opens a new operation with the given reference, creating the
// attempt first when there is none.
func (c *Controller) StartOperation(ctx context.Context, reference string) (model.Operation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return model.Operation{}, ErrBlankReference
	}

	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return model.Operation{}, ErrNotLoaded
	}
	st := c.stateLocked()
	if err := checkStart(st); err != nil {
		c.mu.Unlock()
		return model.Operation{}, err
	}
	if err := c.acquireLocked(TargetStart); err != nil {
		c.mu.Unlock()
		return model.Operation{}, err
	}
	c.mu.Unlock()
	defer c.release(TargetStart)

	if st.Submission == nil {
		sub, ops, err := c.createSubmission(ctx, st.Challenge.ID)
		if err != nil {
			return model.Operation{}, err
		}
		c.mu.Lock()
		c.submission = &sub
		c.operations = ops
		st = c.stateLocked()
		c.mu.Unlock()
		c.touch(ctx, sub)
		// A resumed attempt may already hold work.
		if err := checkStart(st); err != nil {
			return model.Operation{}, err
		}
	}

	op, err := c.api.StartOperation(ctx, st.Submission.ID, reference)
	if err != nil {
		return model.Operation{}, err
	}
	c.mu.Lock()
	c.operations = upsert(c.operations, op)
	c.mu.Unlock()
	c.log.Info("operation started",
		zap.Int64("submission_id", st.Submission.ID),
		zap.Int64("operation_id", op.ID),
		zap.String("reference", reference))
	return op, nil
}

func checkStart(st State) error {
	if st.Submission != nil && st.Submission.Status != model.StatusInProgress {
		return ErrSubmitted
	}
	if st.Progress.HasOpen {
		return ErrOperationOpen
	}
	if !st.Progress.CanAddMore {
		return ErrNoMoreOperations
	}
	return nil
}

func (c *Controller) createSubmission(ctx context.Context, challengeID int64) (model.Submission, []model.Operation, error) {
	sub, err := c.api.StartCompleteSelf(ctx, challengeID)
	if err != nil {
		return model.Submission{}, nil, err
	}
	ops, err := c.api.ListOperations(ctx, sub.ID)
	if err != nil {
		return model.Submission{}, nil, err
	}
	return sub, ops, nil
}

func upsert(ops []model.Operation, op model.Operation) []model.Operation {
	out := append([]model.Operation(nil), ops...)
	for i := range out {
		if out[i].ID == op.ID {
			out[i] = op
			return out
		}
	}
	return append(out, op)
}

// FinishOperation closes the running operation and reloads the attempt.
func (c *Controller) FinishOperation(ctx context.Context) (model.Operation, error) {
	c.mu.Lock()
	st := c.stateLocked()
	open, ok := st.Open()
	if st.Submission == nil || !ok {
		c.mu.Unlock()
		return model.Operation{}, ErrNoOpenOperation
	}
	target := FinishTarget(open.ID)
	if err := c.acquireLocked(target); err != nil {
		c.mu.Unlock()
		return model.Operation{}, err
	}
	c.mu.Unlock()
	defer c.release(target)

	finished, err := c.api.FinishOperation(ctx, open.ID)
	if err != nil {
		return model.Operation{}, err
	}
	c.log.Info("operation finished",
		zap.Int64("submission_id", st.Submission.ID),
		zap.Int64("operation_id", open.ID))
	if err := c.Refresh(ctx); err != nil {
		return finished, fmt.Errorf("operation finished but reload failed: %w", err)
	}
	return finished, nil
}

// SubmitForReview hands the attempt to the trainer once confirm agrees.
func (c *Controller) SubmitForReview(ctx context.Context, confirm func(prompt string) bool) (model.Submission, error) {
	c.mu.Lock()
	st := c.stateLocked()
	if st.Submission == nil {
		c.mu.Unlock()
		return model.Submission{}, ErrNoSubmission
	}
	if !st.CanSubmit() {
		c.mu.Unlock()
		return model.Submission{}, ErrNotReady
	}
	if c.busy[TargetSubmit] {
		c.mu.Unlock()
		return model.Submission{}, ErrActionInFlight
	}
	c.mu.Unlock()

	prompt := fmt.Sprintf("Submit %d operations of %q for review? This cannot be undone.", st.Progress.Completed, st.Challenge.Title)
	if confirm == nil || !confirm(prompt) {
		return model.Submission{}, ErrNotConfirmed
	}

	c.mu.Lock()
	if err := c.acquireLocked(TargetSubmit); err != nil {
		c.mu.Unlock()
		return model.Submission{}, err
	}
	c.mu.Unlock()
	defer c.release(TargetSubmit)

	sub, err := c.api.SubmitForReview(ctx, st.Submission.ID)
	if err != nil {
		return model.Submission{}, err
	}
	c.mu.Lock()
	c.submission = &sub
	c.mu.Unlock()
	c.touch(ctx, sub)
	c.log.Info("submitted for review", zap.Int64("submission_id", sub.ID))
	return sub, nil
}

// StartRetry replaces a retry-enabled attempt with a fresh one.
func (c *Controller) StartRetry(ctx context.Context) (model.Submission, error) {
	c.mu.Lock()
	if c.submission == nil {
		c.mu.Unlock()
		return model.Submission{}, ErrNoSubmission
	}
	prev := *c.submission
	if !prev.IsRetryAllowed {
		c.mu.Unlock()
		return model.Submission{}, ErrRetryNotAllowed
	}
	if err := c.acquireLocked(TargetRetry); err != nil {
		c.mu.Unlock()
		return model.Submission{}, err
	}
	c.mu.Unlock()
	defer c.release(TargetRetry)

	sub, err := c.api.StartRetry(ctx, prev.ID)
	if err != nil {
		return model.Submission{}, err
	}
	ops, err := c.api.ListOperations(ctx, sub.ID)
	if err != nil {
		return model.Submission{}, err
	}
	c.mu.Lock()
	c.submission = &sub
	c.operations = ops
	c.mu.Unlock()
	c.touch(ctx, sub)
	c.log.Info("retry started", zap.Int64("previous_id", prev.ID), zap.Int64("submission_id", sub.ID))
	return sub, nil
}

// Refresh re-fetches the submission and its operations and replaces both.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.submission == nil {
		c.mu.Unlock()
		return nil
	}
	id := c.submission.ID
	c.mu.Unlock()

	var (
		sub model.Submission
		ops []model.Operation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sub, err = c.api.GetSubmission(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		ops, err = c.api.ListOperations(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A retry may have swapped the attempt while the fetch was running.
	if c.submission == nil || c.submission.ID != id {
		return nil
	}
	c.submission = &sub
	c.operations = ops
	return nil
}

// Elapsed returns the running time of the open operation at now.
func (c *Controller) Elapsed(now time.Time) (int64, bool) {
	op, ok := c.State().Open()
	if !ok {
		return 0, false
	}
	return timer.OperationElapsed(op, now), true
}

func (c *Controller) touch(ctx context.Context, sub model.Submission) {
	if c.history == nil {
		return
	}
	err := c.history.TouchSubmission(ctx, model.RecentSubmission{
		SubmissionID: sub.ID,
		ChallengeID:  sub.ChallengeID,
		Role:         model.RoleStudent,
		Status:       sub.Status,
		TouchedAt:    time.Now(),
	})
	if err != nil {
		c.log.Warn("failed to record history", zap.Int64("submission_id", sub.ID), zap.Error(err))
	}
}
