package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/execution"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/review"
	"github.com/marceloligiero/tradehub/internal/stats"
	"github.com/marceloligiero/tradehub/internal/tui"
)

var (
	runSubmission int64

	summaryStudent    int64
	summaryOperations int
	summaryMinutes    float64
	summaryErrors     []string

	retryRun bool
)

func newChallengeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Work on challenges",
	}

	runCmd := &cobra.Command{
		Use:   "run <challenge-id>",
		Short: "Execute a challenge operation by operation",
		Args:  cobra.ExactArgs(1),
		RunE:  runChallengeRunCmd,
	}
	runCmd.Flags().Int64Var(&runSubmission, "submission", 0, "resume an existing attempt")

	summaryCmd := &cobra.Command{
		Use:   "summary <challenge-id>",
		Short: "Record an aggregate attempt for a student",
		Args:  cobra.ExactArgs(1),
		RunE:  runChallengeSummaryCmd,
	}
	summaryCmd.Flags().Int64Var(&summaryStudent, "student", 0, "student id")
	summaryCmd.Flags().IntVar(&summaryOperations, "operations", 0, "operations completed")
	summaryCmd.Flags().Float64Var(&summaryMinutes, "minutes", 0, "total time in minutes")
	summaryCmd.Flags().StringArrayVar(&summaryErrors, "error", nil, "error as TYPE[@REF]:description (repeatable)")

	cmd.AddCommand(runCmd, summaryCmd)
	return cmd
}

func runChallengeRunCmd(cmd *cobra.Command, args []string) error {
	challengeID, err := parseID("challenge id", args[0])
	if err != nil {
		return err
	}
	return withUser(cmd, func(a *app, _ model.User) error {
		ctrl := execution.New(a.client,
			execution.WithHistory(a.store),
			execution.WithLogger(a.log.Named("execution")))
		if err := ctrl.Load(cmd.Context(), challengeID, runSubmission); err != nil {
			return err
		}
		return runExecutionTUI(cmd, ctrl)
	})
}

func runExecutionTUI(cmd *cobra.Command, ctrl *execution.Controller) error {
	m := tui.NewExecutionModel(cmd.Context(), ctrl)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	if err := m.Err(); err != nil {
		return err
	}
	if sub := ctrl.State().Submission; sub != nil {
		return writeOut(cmd, "Submission %d: %s\n", sub.ID, sub.Status)
	}
	return nil
}

func runChallengeSummaryCmd(cmd *cobra.Command, args []string) error {
	challengeID, err := parseID("challenge id", args[0])
	if err != nil {
		return err
	}
	report := api.SummaryReport{
		StudentID:        summaryStudent,
		TotalOperations:  summaryOperations,
		TotalTimeMinutes: summaryMinutes,
	}
	for _, raw := range summaryErrors {
		e, ref, err := parseErrorFlag(raw)
		if err != nil {
			return err
		}
		report.Errors = append(report.Errors, api.SummaryReportError{
			Type:               e.Type,
			Description:        e.Description,
			OperationReference: ref,
		})
	}
	return withUser(cmd, func(a *app, user model.User) error {
		if !user.Role.Grades() {
			return fmt.Errorf("only trainers can record summary attempts")
		}
		sub, err := review.SubmitSummary(cmd.Context(), a.client, challengeID, report)
		if err != nil {
			return err
		}
		return writeOut(cmd, "Created submission %d (%s, MPU %.2f)\n", sub.ID, sub.Status, sub.CalculatedMPU)
	})
}

func newSubmissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submission",
		Short: "Inspect submissions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <submission-id>",
		Short: "Print a submission report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("submission id", args[0])
			if err != nil {
				return err
			}
			return withUser(cmd, func(a *app, _ model.User) error {
				r, err := stats.BuildReport(cmd.Context(), a.client, id)
				if err != nil {
					return err
				}
				return stats.RenderSubmission(cmd.OutOrStdout(), r, time.Now())
			})
		},
	})
	return cmd
}

func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry rejected attempts",
	}
	startCmd := &cobra.Command{
		Use:   "start <submission-id>",
		Short: "Start a new attempt once the trainer allowed a retry",
		Args:  cobra.ExactArgs(1),
		RunE:  runRetryStartCmd,
	}
	startCmd.Flags().BoolVar(&retryRun, "run", false, "open the new attempt right away")
	cmd.AddCommand(startCmd)
	return cmd
}

func runRetryStartCmd(cmd *cobra.Command, args []string) error {
	id, err := parseID("submission id", args[0])
	if err != nil {
		return err
	}
	return withUser(cmd, func(a *app, _ model.User) error {
		sub, err := a.client.GetSubmission(cmd.Context(), id)
		if err != nil {
			return err
		}
		ctrl := execution.New(a.client,
			execution.WithHistory(a.store),
			execution.WithLogger(a.log.Named("execution")))
		if err := ctrl.Load(cmd.Context(), sub.ChallengeID, id); err != nil {
			return err
		}
		next, err := ctrl.StartRetry(cmd.Context())
		if err != nil {
			return err
		}
		if err := writeOut(cmd, "Started retry %d as submission %d\n", next.RetryCount, next.ID); err != nil {
			return err
		}
		if !retryRun {
			return nil
		}
		return runExecutionTUI(cmd, ctrl)
	})
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// parseErrorFlag reads TYPE[@REF]:description. The type is case-insensitive.
func parseErrorFlag(raw string) (model.OperationError, string, error) {
	head, desc, ok := strings.Cut(raw, ":")
	if !ok {
		return model.OperationError{}, "", fmt.Errorf("invalid --error %q (use TYPE:description)", raw)
	}
	typ, ref, _ := strings.Cut(head, "@")
	return model.OperationError{
		Type:        model.ErrorType(strings.ToUpper(strings.TrimSpace(typ))),
		Description: strings.TrimSpace(desc),
	}, strings.TrimSpace(ref), nil
}
