package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/marceloligiero/tradehub/internal/model"
)

// GetChallenge fetches a challenge template.
func (c *Client) GetChallenge(ctx context.Context, challengeID int64) (model.Challenge, error) {
	var out challengeDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/challenges/%d", challengeID), nil, nil, &out); err != nil {
		return model.Challenge{}, err
	}
	return normalizeChallenge(out), nil
}

// StartCompleteSelf creates or resumes the caller's COMPLETE submission.
func (c *Client) StartCompleteSelf(ctx context.Context, challengeID int64) (model.Submission, error) {
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submit/complete/start/%d/self", challengeID), nil, nil)
}

// GetSubmission fetches the authoritative submission snapshot.
func (c *Client) GetSubmission(ctx context.Context, submissionID int64) (model.Submission, error) {
	return c.submission(ctx, http.MethodGet, fmt.Sprintf("/api/challenges/submissions/%d", submissionID), nil, nil)
}

// ListOperations fetches the ordered operation list of a submission.
func (c *Client) ListOperations(ctx context.Context, submissionID int64) ([]model.Operation, error) {
	var out []operationDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/challenges/submissions/%d/operations", submissionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return normalizeOperations(out), nil
}

// StartOperation opens a new operation.
func (c *Client) StartOperation(ctx context.Context, submissionID int64, reference string) (model.Operation, error) {
	body := map[string]string{"operation_reference": reference}
	return c.operation(ctx, fmt.Sprintf("/api/challenges/submissions/%d/operations/start", submissionID), body)
}

// FinishOperation closes the open operation.
func (c *Client) FinishOperation(ctx context.Context, operationID int64) (model.Operation, error) {
	return c.operation(ctx, fmt.Sprintf("/api/challenges/operations/%d/finish", operationID), nil)
}

// SubmitForReview hands a finished submission to the trainer.
func (c *Client) SubmitForReview(ctx context.Context, submissionID int64) (model.Submission, error) {
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submissions/%d/submit-for-review", submissionID), nil, nil)
}

type classifyRequest struct {
	HasError bool                `json:"has_error"`
	Errors   []operationErrorDTO `json:"errors"`
}

// ClassifyOperation records the trainer's grading of one operation.
func (c *Client) ClassifyOperation(ctx context.Context, operationID int64, hasError bool, errs []model.OperationError) (model.Operation, error) {
	body := classifyRequest{HasError: hasError, Errors: toErrorDTOs(errs)}
	return c.operation(ctx, fmt.Sprintf("/api/challenges/operations/%d/classify", operationID), body)
}

// FinalizeReview approves or rejects a submission under automatic KPI mode.
func (c *Client) FinalizeReview(ctx context.Context, submissionID int64, approve bool) (model.Submission, error) {
	query := url.Values{"approve": []string{strconv.FormatBool(approve)}}
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submissions/%d/finalize-review", submissionID), query, nil)
}

type manualFinalizeRequest struct {
	Approve      bool    `json:"approve"`
	TrainerNotes *string `json:"trainer_notes,omitempty"`
}

// ManualFinalize records the trainer's decision under manual KPI mode.
func (c *Client) ManualFinalize(ctx context.Context, submissionID int64, approve bool, notes string) (model.Submission, error) {
	body := manualFinalizeRequest{Approve: approve}
	if notes != "" {
		body.TrainerNotes = &notes
	}
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submissions/%d/manual-finalize", submissionID), nil, body)
}

// AllowRetry enables a retry on a rejected submission.
func (c *Client) AllowRetry(ctx context.Context, submissionID int64) (model.Submission, error) {
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submissions/%d/allow-retry", submissionID), nil, nil)
}

// StartRetry creates the retry submission.
func (c *Client) StartRetry(ctx context.Context, submissionID int64) (model.Submission, error) {
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submissions/%d/start-retry", submissionID), nil, nil)
}

// SummaryReport is a trainer-entered aggregate attempt.
type SummaryReport struct {
	StudentID        int64
	TotalOperations  int
	TotalTimeMinutes float64
	Errors           []SummaryReportError
}

// SummaryReportError is one error line of a summary report.
type SummaryReportError struct {
	Type               model.ErrorType
	Description        string
	OperationReference string
}

type summaryErrorRequest struct {
	ErrorType          string  `json:"error_type"`
	Description        string  `json:"description"`
	OperationReference *string `json:"operation_reference,omitempty"`
}

type summaryRequest struct {
	StudentID        int64                 `json:"student_id"`
	TotalOperations  int                   `json:"total_operations"`
	TotalTimeMinutes float64               `json:"total_time_minutes"`
	Errors           []summaryErrorRequest `json:"errors"`
}

// SubmitSummary creates a SUMMARY submission for a student.
func (c *Client) SubmitSummary(ctx context.Context, challengeID int64, report SummaryReport) (model.Submission, error) {
	body := summaryRequest{
		StudentID:        report.StudentID,
		TotalOperations:  report.TotalOperations,
		TotalTimeMinutes: report.TotalTimeMinutes,
		Errors:           make([]summaryErrorRequest, 0, len(report.Errors)),
	}
	for _, e := range report.Errors {
		item := summaryErrorRequest{ErrorType: string(e.Type), Description: e.Description}
		if e.OperationReference != "" {
			ref := e.OperationReference
			item.OperationReference = &ref
		}
		body.Errors = append(body.Errors, item)
	}
	return c.submission(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/submit/summary/%d", challengeID), nil, body)
}

func (c *Client) submission(ctx context.Context, method, path string, query url.Values, body any) (model.Submission, error) {
	var out submissionDTO
	if err := c.do(ctx, method, path, query, body, &out); err != nil {
		return model.Submission{}, err
	}
	return normalizeSubmission(out), nil
}

func (c *Client) operation(ctx context.Context, path string, body any) (model.Operation, error) {
	var out operationDTO
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return model.Operation{}, err
	}
	return normalizeOperation(out), nil
}

func toErrorDTOs(errs []model.OperationError) []operationErrorDTO {
	out := make([]operationErrorDTO, 0, len(errs))
	for _, e := range errs {
		out = append(out, operationErrorDTO{ErrorType: string(e.Type), Description: e.Description})
	}
	return out
}
