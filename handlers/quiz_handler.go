package handlers

import (
	"net/http"

	"lmsquiz/services"

	"github.com/gin-gonic/gin"
)

type QuizHandler struct {
	quizService *services.QuizService
}

func NewQuizHandler(quizService *services.QuizService) *QuizHandler {
	return &QuizHandler{
		quizService: quizService,
	}
}

func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateQuizRequest
	if !bindJSON(c, &req) {
		return
	}

	quiz, err := h.quizService.CreateQuiz(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, quiz)
}

func (h *QuizHandler) GetUserQuizzes(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	quizzes, err := h.quizService.GetUserQuizzes(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quizzes)
}

func (h *QuizHandler) GetQuizByID(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	quiz, err := h.quizService.GetQuizByID(c.Request.Context(), quizID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	var req services.UpdateQuizRequest
	if !bindJSON(c, &req) {
		return
	}

	quiz, err := h.quizService.UpdateQuiz(c.Request.Context(), quizID, userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *QuizHandler) ArchiveQuiz(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	quiz, err := h.quizService.ArchiveQuiz(c.Request.Context(), quizID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	if err := h.quizService.DeleteQuiz(c.Request.Context(), quizID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Quiz deleted successfully"})
}

// TakeQuiz is the student view of a quiz: no correct answers.
func (h *QuizHandler) TakeQuiz(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	quizID, ok := uintParam(c, "id", "quiz")
	if !ok {
		return
	}

	quiz, err := h.quizService.GetQuizForStudent(c.Request.Context(), quizID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}
