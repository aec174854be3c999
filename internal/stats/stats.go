// Package stats contains submission metrics and text reporting.
package stats

import (
	"math"
	"strings"
	"time"

	mstats "github.com/montanaflynn/stats"

	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/timer"
)

const sparkChars = " .:-=+*#%@"

// MPU returns minutes per unit. Zero operations yield zero.
func MPU(totalMinutes float64, operations int) float64 {
	if operations <= 0 || totalMinutes <= 0 {
		return 0
	}
	return totalMinutes / float64(operations)
}

// Metrics are figures derived from a submission's operations.
type Metrics struct {
	Completed    int
	Open         int
	TotalSeconds int64
	MPU          float64
	WithErrors   int
	ErrorCount   int
	Unclassified int
}

// SubmissionMetrics derives metrics from the operation list. Open operations
// count toward Open only; their running time is not part of the total.
func SubmissionMetrics(ops []model.Operation, now time.Time) Metrics {
	var m Metrics
	for _, op := range ops {
		if op.Open() {
			m.Open++
			continue
		}
		m.Completed++
		m.TotalSeconds += timer.OperationElapsed(op, now)
		if !op.Classified() {
			m.Unclassified++
		}
		if op.HasError {
			m.WithErrors++
			m.ErrorCount += len(op.Errors)
		}
	}
	m.MPU = MPU(float64(m.TotalSeconds)/60, m.Completed)
	return m
}

// Durations returns the seconds spent on each finished operation, in order.
func Durations(ops []model.Operation, now time.Time) []float64 {
	out := make([]float64, 0, len(ops))
	for _, op := range ops {
		if op.Open() {
			continue
		}
		out = append(out, float64(timer.OperationElapsed(op, now)))
	}
	return out
}

// Pace summarizes finished operation times in seconds.
type Pace struct {
	Median float64
	P90    float64
}

// OperationPace returns the median and 90th percentile of durations. It
// reports false when there is nothing to summarize.
func OperationPace(durations []float64) (Pace, bool) {
	if len(durations) == 0 {
		return Pace{}, false
	}
	median, err := mstats.Median(durations)
	if err != nil {
		return Pace{}, false
	}
	p90, err := mstats.Percentile(durations, 90)
	if err != nil {
		return Pace{}, false
	}
	return Pace{Median: median, P90: p90}, true
}

// KPIResult is one enabled KPI checked against the challenge threshold.
type KPIResult struct {
	Name   string
	Actual string
	Target string
	Met    bool
}

// EvaluateKPIs checks the enabled KPIs of a challenge. It mirrors the
// server's AUTO rule for display only; the server decides the outcome.
func EvaluateKPIs(c model.Challenge, operations int, mpu float64, errors int) []KPIResult {
	var out []KPIResult
	if c.UseVolumeKPI {
		out = append(out, KPIResult{
			Name:   "Volume",
			Actual: itoa(operations),
			Target: ">= " + itoa(c.OperationsRequired),
			Met:    operations >= c.OperationsRequired,
		})
	}
	if c.UseMPUKPI {
		out = append(out, KPIResult{
			Name:   "MPU",
			Actual: formatFloat(mpu),
			Target: "<= " + formatFloat(c.TargetMPU),
			Met:    operations > 0 && mpu <= c.TargetMPU,
		})
	}
	if c.UseErrorsKPI {
		out = append(out, KPIResult{
			Name:   "Errors",
			Actual: itoa(errors),
			Target: "<= " + itoa(c.MaxErrors),
			Met:    errors <= c.MaxErrors,
		})
	}
	return out
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window <= 1 {
		copy(out, values)
		return out
	}
	var sum float64
	for i := range values {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}
		den := float64(i + 1)
		if i >= window {
			den = float64(window)
		}
		out[i] = sum / den
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		idx = max(0, min(idx, len(sparkChars)-1))
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// FormatClock renders seconds as MM:SS, or H:MM:SS past an hour.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return pad2(h, false) + ":" + pad2(m, true) + ":" + pad2(s, true)
	}
	return pad2(m, true) + ":" + pad2(s, true)
}
