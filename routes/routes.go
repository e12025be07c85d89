package routes

import (
	"log"
	"net/http"

	"lmsquiz/handlers"
	"lmsquiz/middleware"
	"lmsquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer and the token, not here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRoutes(
	router *gin.Engine,
	quizHandler *handlers.QuizHandler,
	attemptHandler *handlers.AttemptHandler,
	attemptService *services.AttemptService,
	hub *services.Hub,
	jwtSecret string,
) {
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtSecret))
	{
		quizzes := api.Group("/quizzes")
		{
			quizzes.GET("", quizHandler.GetUserQuizzes)
			quizzes.POST("", quizHandler.CreateQuiz)
			quizzes.GET("/:id", quizHandler.GetQuizByID)
			quizzes.PUT("/:id", quizHandler.UpdateQuiz)
			quizzes.DELETE("/:id", quizHandler.DeleteQuiz)
			quizzes.POST("/:id/archive", quizHandler.ArchiveQuiz)
			quizzes.GET("/:id/take", quizHandler.TakeQuiz)
			quizzes.POST("/:id/attempts", attemptHandler.StartAttempt)
			quizzes.GET("/:id/attempts", attemptHandler.ListQuizAttempts)
		}

		attempts := api.Group("/attempts")
		{
			attempts.GET("", attemptHandler.ListUserAttempts)
			attempts.GET("/:id", attemptHandler.GetAttempt)
			attempts.POST("/:id/navigate", attemptHandler.Navigate)
			attempts.POST("/:id/submit", attemptHandler.Submit)
			attempts.GET("/:id/result", attemptHandler.GetResult)
			attempts.GET("/:id/review", attemptHandler.Review)
			attempts.POST("/:id/abandon", attemptHandler.Abandon)
			attempts.POST("/:id/grade", attemptHandler.GradeAttempt)
			attempts.PUT("/:id/answers/:questionId/grade", attemptHandler.GradeAnswer)
		}
	}

	// WebSocket endpoint keeping every open tab of an attempt in sync
	router.GET("/ws/attempts/:id", middleware.AuthMiddleware(jwtSecret), func(c *gin.Context) {
		userID := c.GetUint("user_id")
		attemptID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "attempt not found"})
			return
		}

		// Only the attempt's owner may listen to it.
		if _, err := attemptService.GetAttempt(c.Request.Context(), attemptID, userID); err != nil {
			log.Printf("WebSocket access denied for attempt %s, user %d: %v", attemptID, userID, err)
			status := http.StatusForbidden
			if services.ErrorKind(err) == services.KindNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"success": false, "message": services.PublicMessage(err)})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for attempt %s: %v", attemptID, err)
			return
		}

		log.Printf("WebSocket connection established for attempt %s, user %d", attemptID, userID)
		hub.RegisterClient(conn, attemptID, userID)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
