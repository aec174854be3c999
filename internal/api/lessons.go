package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/marceloligiero/tradehub/internal/model"
)

// LessonAction is a state-changing lesson progress action.
type LessonAction string

const (
	LessonStart   LessonAction = "start"
	LessonPause   LessonAction = "pause"
	LessonResume  LessonAction = "resume"
	LessonFinish  LessonAction = "finish"
	LessonConfirm LessonAction = "confirm"
	LessonApprove LessonAction = "approve"
)

// GetLessonProgress fetches the authoritative lesson progress snapshot.
func (c *Client) GetLessonProgress(ctx context.Context, progressID int64) (model.LessonProgress, error) {
	return c.lessonProgress(ctx, http.MethodGet, fmt.Sprintf("/api/lesson-progress/%d", progressID))
}

// ReleaseLesson makes a lesson startable for one student.
func (c *Client) ReleaseLesson(ctx context.Context, lessonID, studentID int64) (model.LessonProgress, error) {
	return c.lessonProgress(ctx, http.MethodPost, fmt.Sprintf("/api/lessons/%d/release/%d", lessonID, studentID))
}

// LessonProgressAction applies an action and returns the new snapshot.
func (c *Client) LessonProgressAction(ctx context.Context, progressID int64, action LessonAction) (model.LessonProgress, error) {
	return c.lessonProgress(ctx, http.MethodPost, fmt.Sprintf("/api/lesson-progress/%d/%s", progressID, action))
}

func (c *Client) lessonProgress(ctx context.Context, method, path string) (model.LessonProgress, error) {
	var out lessonProgressDTO
	if err := c.do(ctx, method, path, nil, nil, &out); err != nil {
		return model.LessonProgress{}, err
	}
	return normalizeLessonProgress(out), nil
}
