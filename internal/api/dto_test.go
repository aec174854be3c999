package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marceloligiero/tradehub/internal/model"
)

func decodeSubmission(t *testing.T, raw string) model.Submission {
	t.Helper()
	var d submissionDTO
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return normalizeSubmission(d)
}

func TestNormalizeCompleteErrorsFallbacks(t *testing.T) {
	sub := decodeSubmission(t, `{"id":1,"status":"pending_review","submission_type":"COMPLETE",
		"errors_summary":{"operations_with_errors":2},"errors_count":5}`)
	require.IsType(t, model.CompleteDetail{}, sub.Detail)
	assert.Equal(t, 2, sub.ErrorsCount)
	assert.Equal(t, model.StatusPendingReview, sub.Status)

	sub = decodeSubmission(t, `{"id":1,"status":"IN_PROGRESS","errors_count":5}`)
	assert.Equal(t, 5, sub.ErrorsCount)
	assert.Equal(t, model.ChallengeComplete, sub.Kind())

	sub = decodeSubmission(t, `{"id":1,"status":"IN_PROGRESS"}`)
	assert.Equal(t, 0, sub.ErrorsCount)
}

func TestNormalizeSummaryVariant(t *testing.T) {
	sub := decodeSubmission(t, `{"id":2,"status":"SUBMITTED","submission_type":"SUMMARY",
		"total_operations":12,"total_time_minutes":30.5,
		"user":{"id":44,"full_name":"Ana Costa"},
		"errors":[{"id":1,"error_type":"DETAIL","description":"typo","operation_reference":"OP-9","created_at":"2025-01-02T03:04:05"}]}`)
	detail, ok := sub.Detail.(model.SummaryDetail)
	require.True(t, ok)
	require.Len(t, detail.Errors, 1)
	assert.Equal(t, "OP-9", detail.Errors[0].OperationReference)
	assert.Equal(t, 1, sub.ErrorsCount)
	assert.Equal(t, int64(44), sub.StudentID)
	assert.Equal(t, "Ana Costa", sub.StudentName)
	assert.Equal(t, 12, sub.TotalOperations)
}

func TestNormalizeChallengeDefaults(t *testing.T) {
	var d challengeDTO
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"operations_required":4}`), &d))
	ch := normalizeChallenge(d)
	assert.Equal(t, model.ChallengeComplete, ch.Type)
	assert.Equal(t, model.KPIAuto, ch.KPIMode)
	assert.True(t, ch.UseVolumeKPI && ch.UseMPUKPI && ch.UseErrorsKPI)
	assert.False(t, ch.AllowRetry)

	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"kpi_mode":"manual","use_mpu_kpi":false}`), &d))
	ch = normalizeChallenge(d)
	assert.True(t, ch.Manual())
	assert.False(t, ch.UseMPUKPI)
}

func TestNormalizeLessonProgress(t *testing.T) {
	var d lessonProgressDTO
	require.NoError(t, json.Unmarshal([]byte(`{"id":5,"lesson_id":2,"status":"PAUSED",
		"accumulated_seconds":700,"lesson":{"title":"Swaps","started_by":"student","estimated_minutes":10}}`), &d))
	p := normalizeLessonProgress(d)
	assert.True(t, p.IsPaused)
	assert.Equal(t, model.RoleStudent, p.StartedBy)
	assert.Equal(t, int64(700), p.ElapsedSeconds)
	assert.True(t, p.IsDelayed)
	assert.Equal(t, "Swaps", p.LessonTitle)
}

func TestAPITimeRejectsGarbage(t *testing.T) {
	var v apiTime
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &v))
	require.NoError(t, json.Unmarshal([]byte(`""`), &v))
	assert.True(t, v.IsZero())
}
