package stats

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/timer"
)

const maxReferenceWidth = 32

// Source is the part of the gateway client a report reads from.
type Source interface {
	GetSubmission(ctx context.Context, submissionID int64) (model.Submission, error)
	GetChallenge(ctx context.Context, challengeID int64) (model.Challenge, error)
	ListOperations(ctx context.Context, submissionID int64) ([]model.Operation, error)
}

// Report contains fetched data for submission rendering.
type Report struct {
	Challenge  model.Challenge
	Submission model.Submission
	Operations []model.Operation
}

// BuildReport loads a submission with its challenge and, for COMPLETE
// submissions, its operations.
func BuildReport(ctx context.Context, src Source, submissionID int64) (Report, error) {
	sub, err := src.GetSubmission(ctx, submissionID)
	if err != nil {
		return Report{}, err
	}
	r := Report{Submission: sub}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := src.GetChallenge(gctx, sub.ChallengeID)
		if err != nil {
			return err
		}
		r.Challenge = c
		return nil
	})
	if sub.Kind() == model.ChallengeComplete {
		g.Go(func() error {
			ops, err := src.ListOperations(gctx, sub.ID)
			if err != nil {
				return err
			}
			r.Operations = ops
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return r, nil
}

// paceWindow is the number of operations averaged per sparkline point.
const paceWindow = 3

// RenderSubmission prints totals, KPIs, a duration sparkline and the
// operation table.
func RenderSubmission(w io.Writer, r Report, now time.Time) error {
	sub := r.Submission
	var lines []string
	lines = append(lines,
		fmt.Sprintf("%s (submission %d, %s)", r.Challenge.Title, sub.ID, sub.Kind()),
		"Status: "+statusLabel(sub),
	)
	if sub.StudentName != "" {
		lines = append(lines, "Student: "+sub.StudentName)
	}
	if sub.RetryCount > 0 {
		lines = append(lines, fmt.Sprintf("Retry: %d", sub.RetryCount))
	}

	operations, mpu, errors := sub.TotalOperations, sub.CalculatedMPU, sub.ErrorsCount
	totalTime := time.Duration(sub.TotalTimeMinutes * float64(time.Minute))
	if sub.Kind() == model.ChallengeComplete {
		m := SubmissionMetrics(r.Operations, now)
		operations, mpu, errors = m.Completed, m.MPU, m.ErrorCount
		totalTime = time.Duration(m.TotalSeconds) * time.Second
		if mpu == 0 {
			mpu = sub.CalculatedMPU
		}
		lines = append(lines, fmt.Sprintf("Operations: %d/%d (%d open, %d unclassified)",
			m.Completed, r.Challenge.OperationsRequired, m.Open, m.Unclassified))
	} else {
		lines = append(lines, fmt.Sprintf("Operations: %d/%d", operations, r.Challenge.OperationsRequired))
	}
	lines = append(lines,
		"Total time: "+FormatClock(int64(totalTime/time.Second)),
		"MPU: "+formatFloat(mpu),
		"Errors: "+itoa(errors),
	)
	if sub.TrainerNotes != "" {
		lines = append(lines, "Trainer notes: "+sub.TrainerNotes)
	}
	if err := writeLines(w, lines); err != nil {
		return err
	}

	if kpis := EvaluateKPIs(r.Challenge, operations, mpu, errors); len(kpis) > 0 {
		rows := make([][]string, 0, len(kpis))
		for _, k := range kpis {
			met := "no"
			if k.Met {
				met = "yes"
			}
			rows = append(rows, []string{k.Name, k.Actual, k.Target, met})
		}
		if err := writeSection(w, "KPIs", formatTable([]string{"KPI", "Actual", "Target", "Met"}, rows, map[int]bool{1: true})); err != nil {
			return err
		}
	}

	if counts := TopErrorTypes(r.Operations, summaryErrors(sub)); len(counts) > 0 {
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{string(c.Type), itoa(c.Count)})
		}
		if err := writeSection(w, "Errors by type", formatTable([]string{"Type", "Count"}, rows, map[int]bool{1: true})); err != nil {
			return err
		}
	}

	if len(r.Operations) == 0 {
		return nil
	}
	if durations := Durations(r.Operations, now); len(durations) > 1 {
		line := "Pace: " + Sparkline(MovingAverage(durations, paceWindow))
		if p, ok := OperationPace(durations); ok {
			line += fmt.Sprintf(" (median %s, p90 %s)", FormatClock(int64(p.Median)), FormatClock(int64(p.P90)))
		}
		if err := writeLines(w, []string{"", line}); err != nil {
			return err
		}
	}
	return writeSection(w, "Operations", operationTable(r.Operations, now))
}

func operationTable(ops []model.Operation, now time.Time) []string {
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, []string{
			itoa(op.Number),
			truncate(op.Reference, maxReferenceWidth),
			FormatClock(timer.OperationElapsed(op, now)),
			OperationLabel(op),
			itoa(len(op.Errors)),
		})
	}
	return formatTable([]string{"#", "Reference", "Time", "State", "Errors"}, rows, map[int]bool{0: true, 2: true, 4: true})
}

// OperationLabel names an operation's grading state.
func OperationLabel(op model.Operation) string {
	switch {
	case op.Open():
		return "open"
	case !op.Classified():
		return "pending"
	case *op.IsApproved:
		return "correct"
	default:
		return "errors"
	}
}

func statusLabel(sub model.Submission) string {
	label := string(sub.Status)
	if sub.IsApproved != nil {
		if *sub.IsApproved {
			label += " (approved)"
		} else {
			label += " (rejected)"
		}
	}
	if sub.IsRetryAllowed {
		label += ", retry allowed"
	}
	return label
}

func summaryErrors(sub model.Submission) []model.SubmissionError {
	if d, ok := sub.Detail.(model.SummaryDetail); ok {
		return d.Errors
	}
	return nil
}

// RenderRecent prints the locally remembered submissions.
func RenderRecent(w io.Writer, recent []model.RecentSubmission) error {
	if len(recent) == 0 {
		_, err := fmt.Fprintln(w, "No recent submissions.")
		return err
	}
	rows := make([][]string, 0, len(recent))
	for _, r := range recent {
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.SubmissionID),
			fmt.Sprintf("%d", r.ChallengeID),
			strings.ToLower(string(r.Role)),
			string(r.Status),
			r.TouchedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return writeLines(w, formatTable([]string{"Submission", "Challenge", "As", "Status", "Last seen"}, rows, map[int]bool{0: true, 1: true}))
}

func writeSection(w io.Writer, title string, lines []string) error {
	return writeLines(w, append([]string{"", title}, lines...))
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
