package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/lesson"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/stats"
	"github.com/marceloligiero/tradehub/internal/tui"
)

func newLessonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lesson",
		Short: "Track timed lesson sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <progress-id>",
		Short: "Print a lesson session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLesson(cmd, args[0], func(_ *app, ctrl *lesson.Controller) error {
				return printLesson(cmd, ctrl)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "release <lesson-id> <student-id>",
		Short: "Make a lesson startable for a student",
		Args:  cobra.ExactArgs(2),
		RunE:  runLessonReleaseCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "watch <progress-id>",
		Short: "Follow a lesson session live",
		Args:  cobra.ExactArgs(1),
		RunE:  runLessonWatchCmd,
	})
	for _, action := range lesson.Actions {
		cmd.AddCommand(newLessonActionCmd(action))
	}
	return cmd
}

func newLessonActionCmd(action api.LessonAction) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <progress-id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " a lesson session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLesson(cmd, args[0], func(_ *app, ctrl *lesson.Controller) error {
				if _, err := ctrl.Apply(cmd.Context(), action); err != nil {
					return err
				}
				return printLesson(cmd, ctrl)
			})
		},
	}
}

func withLesson(cmd *cobra.Command, rawID string, fn func(a *app, ctrl *lesson.Controller) error) error {
	id, err := parseID("progress id", rawID)
	if err != nil {
		return err
	}
	return withUser(cmd, func(a *app, user model.User) error {
		ctrl := lesson.New(a.client, user, lesson.WithLogger(a.log.Named("lesson")))
		if err := ctrl.Load(cmd.Context(), id); err != nil {
			return err
		}
		return fn(a, ctrl)
	})
}

func runLessonReleaseCmd(cmd *cobra.Command, args []string) error {
	lessonID, err := parseID("lesson id", args[0])
	if err != nil {
		return err
	}
	studentID, err := parseID("student id", args[1])
	if err != nil {
		return err
	}
	return withUser(cmd, func(a *app, user model.User) error {
		ctrl := lesson.New(a.client, user, lesson.WithLogger(a.log.Named("lesson")))
		p, err := ctrl.Release(cmd.Context(), lessonID, studentID)
		if err != nil {
			return err
		}
		return writeOut(cmd, "Released lesson %d to student %d (progress %d)\n", lessonID, studentID, p.ID)
	})
}

func runLessonWatchCmd(cmd *cobra.Command, args []string) error {
	return withLesson(cmd, args[0], func(a *app, ctrl *lesson.Controller) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		task := ctrl.StartPolling(ctx, a.settings.lessonInterval)
		defer task.Stop()

		m := tui.NewLessonModel(ctx, ctrl)
		program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		if err := m.Err(); err != nil {
			return err
		}
		return printLesson(cmd, ctrl)
	})
}

func printLesson(cmd *cobra.Command, ctrl *lesson.Controller) error {
	p := ctrl.Progress()
	delayed := ""
	if ctrl.Delayed() {
		delayed = ", delayed"
	}
	if err := writeOut(cmd, "%s: %s, %s elapsed of %d min%s\n",
		p.LessonTitle, p.Status, stats.FormatClock(ctrl.Elapsed()), p.EstimatedMinutes, delayed); err != nil {
		return err
	}
	next := ctrl.Available()
	if len(next) == 0 {
		return nil
	}
	names := make([]string, len(next))
	for i, a := range next {
		names[i] = string(a)
	}
	return writeOut(cmd, "Next: %s\n", strings.Join(names, ", "))
}
