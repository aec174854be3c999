package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/review"
	"github.com/marceloligiero/tradehub/internal/tui"
)

var (
	reviewYes    bool
	reviewNotes  string
	reviewErrors []string
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <submission-id>",
		Short: "Review a submission (interactive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewCmd,
	}

	classifyCmd := &cobra.Command{
		Use:   "classify <submission-id> <operation-id>",
		Short: "Record the errors of an operation",
		Args:  cobra.ExactArgs(2),
		RunE:  runReviewClassifyCmd,
	}
	classifyCmd.Flags().StringArrayVar(&reviewErrors, "error", nil, "error as TYPE:description (repeatable)")

	correctCmd := &cobra.Command{
		Use:   "correct <submission-id> <operation-id>",
		Short: "Mark an operation as correct",
		Args:  cobra.ExactArgs(2),
		RunE:  runReviewCorrectCmd,
	}

	approveCmd := &cobra.Command{
		Use:   "approve <submission-id>",
		Short: "Approve a fully classified submission",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runReviewFinalize(cmd, args, true) },
	}
	rejectCmd := &cobra.Command{
		Use:   "reject <submission-id>",
		Short: "Reject a fully classified submission",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runReviewFinalize(cmd, args, false) },
	}
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().BoolVarP(&reviewYes, "yes", "y", false, "skip the confirmation prompt")
	}

	manualCmd := &cobra.Command{
		Use:       "manual <submission-id> approve|reject",
		Short:     "Decide a manually graded submission",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"approve", "reject"},
		RunE:      runReviewManualCmd,
	}
	manualCmd.Flags().StringVar(&reviewNotes, "notes", "", "trainer notes")

	allowRetryCmd := &cobra.Command{
		Use:   "allow-retry <submission-id>",
		Short: "Let the student retry a rejected attempt",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewAllowRetryCmd,
	}

	cmd.AddCommand(classifyCmd, correctCmd, approveCmd, rejectCmd, manualCmd, allowRetryCmd)
	return cmd
}

// withReview loads the submission into a review controller for a trainer.
func withReview(cmd *cobra.Command, rawID string, fn func(a *app, ctrl *review.Controller) error) error {
	id, err := parseID("submission id", rawID)
	if err != nil {
		return err
	}
	return withUser(cmd, func(a *app, user model.User) error {
		if !user.Role.Grades() {
			return fmt.Errorf("only trainers can review submissions")
		}
		ctrl := review.New(a.client,
			review.WithHistory(a.store),
			review.WithLogger(a.log.Named("review")))
		if err := ctrl.Load(cmd.Context(), id); err != nil {
			return err
		}
		return fn(a, ctrl)
	})
}

func runReviewCmd(cmd *cobra.Command, args []string) error {
	return withReview(cmd, args[0], func(a *app, ctrl *review.Controller) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		task := ctrl.StartPolling(ctx, a.settings.reviewInterval)
		defer task.Stop()

		m := tui.NewReviewModel(ctx, ctrl)
		program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		if err := m.Err(); err != nil {
			return err
		}
		sub := ctrl.State().Submission
		return writeOut(cmd, "Submission %d: %s\n", sub.ID, sub.Status)
	})
}

func runReviewClassifyCmd(cmd *cobra.Command, args []string) error {
	opID, err := parseID("operation id", args[1])
	if err != nil {
		return err
	}
	errs := make([]model.OperationError, 0, len(reviewErrors))
	for _, raw := range reviewErrors {
		e, _, err := parseErrorFlag(raw)
		if err != nil {
			return err
		}
		errs = append(errs, e)
	}
	return withReview(cmd, args[0], func(_ *app, ctrl *review.Controller) error {
		op, err := ctrl.ClassifyOperation(cmd.Context(), opID, true, errs)
		if err != nil {
			return err
		}
		return writeOut(cmd, "Operation %d classified with %d error(s)\n", op.Number, len(op.Errors))
	})
}

func runReviewCorrectCmd(cmd *cobra.Command, args []string) error {
	opID, err := parseID("operation id", args[1])
	if err != nil {
		return err
	}
	return withReview(cmd, args[0], func(_ *app, ctrl *review.Controller) error {
		op, err := ctrl.MarkAsCorrect(cmd.Context(), opID)
		if err != nil {
			return err
		}
		return writeOut(cmd, "Operation %d marked correct\n", op.Number)
	})
}

func runReviewFinalize(cmd *cobra.Command, args []string, approve bool) error {
	return withReview(cmd, args[0], func(_ *app, ctrl *review.Controller) error {
		sub, err := ctrl.FinalizeReview(cmd.Context(), approve, confirmer(cmd, reviewYes))
		if err != nil {
			return err
		}
		return writeOut(cmd, "Submission %d: %s\n", sub.ID, sub.Status)
	})
}

func runReviewManualCmd(cmd *cobra.Command, args []string) error {
	var approve bool
	switch args[1] {
	case "approve":
		approve = true
	case "reject":
	default:
		return fmt.Errorf("decision must be approve or reject, got %q", args[1])
	}
	return withReview(cmd, args[0], func(_ *app, ctrl *review.Controller) error {
		sub, err := ctrl.ManualFinalize(cmd.Context(), approve, reviewNotes)
		if err != nil {
			return err
		}
		return writeOut(cmd, "Submission %d: %s\n", sub.ID, sub.Status)
	})
}

func runReviewAllowRetryCmd(cmd *cobra.Command, args []string) error {
	return withReview(cmd, args[0], func(_ *app, ctrl *review.Controller) error {
		sub, err := ctrl.AllowRetry(cmd.Context())
		if err != nil {
			return err
		}
		return writeOut(cmd, "Retry allowed for submission %d\n", sub.ID)
	})
}
