// Package review implements the trainer side of a challenge attempt:
// classifying operations, finalizing the submission and enabling retries.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/poll"
)

// DefaultPollInterval is how often an undecided submission is re-fetched.
const DefaultPollInterval = 3 * time.Second

// API is the part of the gateway client the controller needs.
type API interface {
	GetChallenge(ctx context.Context, challengeID int64) (model.Challenge, error)
	GetSubmission(ctx context.Context, submissionID int64) (model.Submission, error)
	ListOperations(ctx context.Context, submissionID int64) ([]model.Operation, error)
	ClassifyOperation(ctx context.Context, operationID int64, hasError bool, errs []model.OperationError) (model.Operation, error)
	FinalizeReview(ctx context.Context, submissionID int64, approve bool) (model.Submission, error)
	ManualFinalize(ctx context.Context, submissionID int64, approve bool, notes string) (model.Submission, error)
	AllowRetry(ctx context.Context, submissionID int64) (model.Submission, error)
}

// History records submissions the user worked on.
type History interface {
	TouchSubmission(ctx context.Context, r model.RecentSubmission) error
}

// Local validation failures. None of them issues a request.
var (
	ErrNotLoaded         = apperr.Validation("Submission is not loaded.")
	ErrUnknownOperation  = apperr.Validation("That operation is not part of this submission.")
	ErrOperationOpen     = apperr.Validation("The student has not finished this operation yet.")
	ErrNoErrors          = apperr.Validation("Add at least one error, or mark the operation as correct.")
	ErrNotClassifiable   = apperr.Validation("SUMMARY submissions have no operations to classify.")
	ErrDecided           = apperr.Validation("This submission has already been decided.")
	ErrManualMode        = apperr.Validation("This challenge is graded manually.")
	ErrAutomaticMode     = apperr.Validation("This challenge is graded automatically.")
	ErrNotReady          = apperr.Validation("Every required operation must be completed and classified first.")
	ErrNotConfirmed      = apperr.Validation("Decision was not confirmed.")
	ErrRetryNotAvailable = apperr.Validation("A retry cannot be enabled for this submission.")
	ErrActionInFlight    = apperr.Validation("That action is already in progress.")
)

// Action targets for Busy.
const (
	TargetFinalize   = "finalize"
	TargetAllowRetry = "allow-retry"
)

// ClassifyTarget is the Busy target of classifying one operation.
func ClassifyTarget(operationID int64) string {
	return fmt.Sprintf("classify:%d", operationID)
}

// State is a consistent copy of the controller state.
type State struct {
	Challenge  model.Challenge
	Submission model.Submission
	Operations []model.Operation
	CanFinal   bool
	Actions    Actions
}

// Controller holds one submission under review. Every server response
// replaces the held snapshot; requests run outside the lock.
type Controller struct {
	api     API
	history History
	log     *zap.Logger

	mu         sync.Mutex
	loaded     bool
	challenge  model.Challenge
	submission model.Submission
	operations []model.Operation
	busy       map[string]bool
	// gen counts local mutations so a refresh started before one cannot
	// overwrite its result.
	gen uint64
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

// Load fetches the submission, its challenge and its operations.
func (c *Controller) Load(ctx context.Context, submissionID int64) error {
	sub, err := c.api.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	var (
		challenge model.Challenge
		ops       []model.Operation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		challenge, err = c.api.GetChallenge(gctx, sub.ChallengeID)
		return err
	})
	if sub.Kind() == model.ChallengeComplete {
		g.Go(func() error {
			var err error
			ops, err = c.api.ListOperations(gctx, submissionID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.loaded = true
	c.challenge = challenge
	c.submission = sub
	c.operations = ops
	c.gen++
	c.mu.Unlock()
	c.touch(ctx, sub)
	return nil
}

// State returns a copy of the current state with the derived gate and actions.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := State{
		Challenge:  c.challenge,
		Submission: c.submission,
		Operations: append([]model.Operation(nil), c.operations...),
	}
	s.CanFinal = CanFinalize(s.Submission.Kind(), s.Challenge.OperationsRequired, s.Operations)
	s.Actions = AvailableActions(s.Challenge, s.Submission, s.Operations)
	return s
}

// Terminal reports whether the submission has been approved or rejected.
func (c *Controller) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.submission.Status.Terminal()
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

// ClassifyOperation records the grading of one finished operation. Every
// error entry is validated first; a single bad entry rejects the batch.
func (c *Controller) ClassifyOperation(ctx context.Context, operationID int64, hasError bool, errs []model.OperationError) (model.Operation, error) {
	if !hasError {
		errs = nil
	} else if len(errs) == 0 {
		return model.Operation{}, ErrNoErrors
	}
	if err := ValidateErrors(errs); err != nil {
		return model.Operation{}, err
	}

	target := ClassifyTarget(operationID)
	c.mu.Lock()
	if err := c.checkClassifyLocked(operationID); err != nil {
		c.mu.Unlock()
		return model.Operation{}, err
	}
	if err := c.acquireLocked(target); err != nil {
		c.mu.Unlock()
		return model.Operation{}, err
	}
	c.mu.Unlock()
	defer c.release(target)

	op, err := c.api.ClassifyOperation(ctx, operationID, hasError, errs)
	if err != nil {
		return model.Operation{}, err
	}
	if op.IsApproved == nil {
		approved := !hasError
		op.IsApproved = &approved
	}

	c.mu.Lock()
	for i := range c.operations {
		if c.operations[i].ID == op.ID {
			c.operations[i] = op
		}
	}
	c.gen++
	c.mu.Unlock()
	c.log.Info("operation classified",
		zap.Int64("submission_id", op.SubmissionID),
		zap.Int64("operation_id", op.ID),
		zap.Bool("has_error", hasError),
		zap.Int("errors", len(errs)))
	if err := c.Refresh(ctx); err != nil {
		return op, fmt.Errorf("operation classified but reload failed: %w", err)
	}
	return op, nil
}

func (c *Controller) checkClassifyLocked(operationID int64) error {
	if !c.loaded {
		return ErrNotLoaded
	}
	if c.submission.Kind() != model.ChallengeComplete {
		return ErrNotClassifiable
	}
	if c.submission.Status.Terminal() {
		return ErrDecided
	}
	for _, op := range c.operations {
		if op.ID != operationID {
			continue
		}
		if op.Open() {
			return ErrOperationOpen
		}
		return nil
	}
	return ErrUnknownOperation
}

// MarkAsCorrect classifies an operation as error-free.
func (c *Controller) MarkAsCorrect(ctx context.Context, operationID int64) (model.Operation, error) {
	return c.ClassifyOperation(ctx, operationID, false, nil)
}

// CanFinalize reports the finalization gate for the held snapshot.
func (c *Controller) CanFinalize() bool {
	return c.State().CanFinal
}

// FinalizeReview approves or rejects under automatic KPI mode once the gate
// is open and confirm agrees.
func (c *Controller) FinalizeReview(ctx context.Context, approve bool, confirm func(prompt string) bool) (model.Submission, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return model.Submission{}, ErrNotLoaded
	}
	st := c.stateLocked()
	c.mu.Unlock()
	if st.Challenge.Manual() {
		return model.Submission{}, ErrManualMode
	}
	if st.Submission.Status.Terminal() {
		return model.Submission{}, ErrDecided
	}
	if !st.CanFinal {
		return model.Submission{}, ErrNotReady
	}
	verb := "Reject"
	if approve {
		verb = "Approve"
	}
	prompt := fmt.Sprintf("%s submission #%d of %s?", verb, st.Submission.ID, studentLabel(st.Submission))
	if confirm == nil || !confirm(prompt) {
		return model.Submission{}, ErrNotConfirmed
	}
	return c.decide(ctx, func(ctx context.Context) (model.Submission, error) {
		return c.api.FinalizeReview(ctx, st.Submission.ID, approve)
	})
}

// ManualFinalize records the trainer's decision under manual KPI mode. The
// finalization gate does not apply.
func (c *Controller) ManualFinalize(ctx context.Context, approve bool, notes string) (model.Submission, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return model.Submission{}, ErrNotLoaded
	}
	st := c.stateLocked()
	c.mu.Unlock()
	if !st.Challenge.Manual() {
		return model.Submission{}, ErrAutomaticMode
	}
	if st.Submission.Status.Terminal() {
		return model.Submission{}, ErrDecided
	}
	return c.decide(ctx, func(ctx context.Context) (model.Submission, error) {
		return c.api.ManualFinalize(ctx, st.Submission.ID, approve, notes)
	})
}

func (c *Controller) decide(ctx context.Context, call func(context.Context) (model.Submission, error)) (model.Submission, error) {
	c.mu.Lock()
	if err := c.acquireLocked(TargetFinalize); err != nil {
		c.mu.Unlock()
		return model.Submission{}, err
	}
	c.mu.Unlock()
	defer c.release(TargetFinalize)

	sub, err := call(ctx)
	if err != nil {
		return model.Submission{}, err
	}
	c.mu.Lock()
	c.submission = sub
	c.gen++
	c.mu.Unlock()
	c.touch(ctx, sub)
	c.log.Info("submission decided", zap.Int64("submission_id", sub.ID), zap.String("status", string(sub.Status)))
	return sub, nil
}

// CanAllowRetry reports whether a retry may be enabled now.
func (c *Controller) CanAllowRetry() bool {
	return c.State().Actions.AllowRetry
}

// AllowRetry enables a retry on a rejected submission.
func (c *Controller) AllowRetry(ctx context.Context) (model.Submission, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return model.Submission{}, ErrNotLoaded
	}
	if !CanAllowRetry(c.challenge, c.submission) {
		c.mu.Unlock()
		return model.Submission{}, ErrRetryNotAvailable
	}
	id := c.submission.ID
	if err := c.acquireLocked(TargetAllowRetry); err != nil {
		c.mu.Unlock()
		return model.Submission{}, err
	}
	c.mu.Unlock()
	defer c.release(TargetAllowRetry)

	sub, err := c.api.AllowRetry(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	c.mu.Lock()
	c.submission = sub
	c.gen++
	c.mu.Unlock()
	c.log.Info("retry allowed", zap.Int64("submission_id", id))
	return sub, nil
}

// Refresh re-fetches the submission and its operations and replaces both.
// A result is dropped when a local mutation landed while it was in flight.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	id := c.submission.ID
	complete := c.submission.Kind() == model.ChallengeComplete
	gen := c.gen
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
	if complete {
		g.Go(func() error {
			var err error
			ops, err = c.api.ListOperations(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	c.submission = sub
	c.operations = ops
	c.gen++
	return nil
}

// Poll is a poll.Func: it refreshes and asks to continue until the
// submission is decided.
func (c *Controller) Poll(ctx context.Context) (bool, error) {
	if c.Terminal() {
		return false, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return true, err
	}
	return !c.Terminal(), nil
}

// StartPolling re-fetches every interval until the submission is decided or
// the returned task is stopped.
func (c *Controller) StartPolling(ctx context.Context, interval time.Duration) *poll.Task {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return poll.Start(ctx, interval, c.Poll, c.log.Named("poll"))
}

func (c *Controller) touch(ctx context.Context, sub model.Submission) {
	if c.history == nil {
		return
	}
	err := c.history.TouchSubmission(ctx, model.RecentSubmission{
		SubmissionID: sub.ID,
		ChallengeID:  sub.ChallengeID,
		Role:         model.RoleTrainer,
		Status:       sub.Status,
		TouchedAt:    time.Now(),
	})
	if err != nil {
		c.log.Warn("failed to record history", zap.Int64("submission_id", sub.ID), zap.Error(err))
	}
}

func studentLabel(sub model.Submission) string {
	if sub.StudentName != "" {
		return sub.StudentName
	}
	return fmt.Sprintf("student %d", sub.StudentID)
}

// SummaryAPI creates SUMMARY submissions.
type SummaryAPI interface {
	SubmitSummary(ctx context.Context, challengeID int64, report api.SummaryReport) (model.Submission, error)
}

// SubmitSummary validates a trainer-entered aggregate report and creates the
// SUMMARY submission.
func SubmitSummary(ctx context.Context, client SummaryAPI, challengeID int64, report api.SummaryReport) (model.Submission, error) {
	if report.StudentID <= 0 {
		return model.Submission{}, apperr.Validation("Choose the student this report belongs to.")
	}
	if report.TotalOperations < 0 || report.TotalTimeMinutes < 0 {
		return model.Submission{}, apperr.Validation("Totals cannot be negative.")
	}
	entries := make([]model.OperationError, 0, len(report.Errors))
	for _, e := range report.Errors {
		entries = append(entries, model.OperationError{Type: e.Type, Description: e.Description})
	}
	if err := ValidateErrors(entries); err != nil {
		return model.Submission{}, err
	}
	return client.SubmitSummary(ctx, challengeID, report)
}
