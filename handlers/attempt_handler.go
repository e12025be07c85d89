package handlers

import (
	"net/http"

	"lmsquiz/services"

	"github.com/gin-gonic/gin"
)

type AttemptHandler struct {
	attemptService *services.AttemptService
	gradingService *services.GradingService
}

func NewAttemptHandler(attemptService *services.AttemptService, gradingService *services.GradingService) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		gradingService: gradingService,
	}
}

// StartAttempt resumes the caller's in-progress attempt or starts a new one.
// A resume answers 200, a new attempt 201.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	var req services.StartAttemptRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	view, resumed, err := h.attemptService.StartAttempt(c.Request.Context(), quizID, userID, req.AccessCode)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"success": true, "resumed": resumed, "attempt": view})
}

func (h *AttemptHandler) Navigate(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	var req services.NavigateRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.attemptService.Navigate(c.Request.Context(), attemptID, userID, req.Input())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttemptHandler) Submit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	view, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *AttemptHandler) GetResult(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttemptHandler) ListUserAttempts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var quizID uint
	if c.Query("quiz_id") != "" {
		var query struct {
			QuizID uint `form:"quiz_id" binding:"min=1"`
		}
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid quiz ID"})
			return
		}
		quizID = query.QuizID
	}

	attempts, err := h.attemptService.ListUserAttempts(c.Request.Context(), userID, quizID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

func (h *AttemptHandler) ListQuizAttempts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	attempts, err := h.attemptService.ListQuizAttempts(c.Request.Context(), quizID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

func (h *AttemptHandler) Review(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	result, err := h.attemptService.GetAttemptForReview(c.Request.Context(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttemptHandler) Abandon(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Abandon(c.Request.Context(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Attempt abandoned", "status": attempt.Status})
}

// GradeAttempt runs auto-grading again for the quiz owner.
func (h *AttemptHandler) GradeAttempt(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	if _, err := h.attemptService.GetAttemptForReview(c.Request.Context(), attemptID, userID); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.gradingService.GradeAttempt(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttemptHandler) GradeAnswer(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionId", "question")
	if !ok {
		return
	}

	var req services.GradeAnswerRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.gradingService.GradeAnswer(c.Request.Context(), attemptID, questionID, userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
