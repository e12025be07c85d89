package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lmsquiz/config"
	"lmsquiz/handlers"
	"lmsquiz/middleware"
	"lmsquiz/routes"
	"lmsquiz/services"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := config.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize services
	quizService := services.NewQuizService(db, services.NewQuizCache(redisClient, cfg.QuizCacheTTL))
	gradingService := services.NewGradingService(db, time.Now)
	attemptService := services.NewAttemptService(db, quizService, gradingService, time.Now)

	// Initialize WebSocket hub
	hub := services.NewHub(attemptService)
	attemptService.AttachHub(hub)
	go hub.Run(ctx)

	sweeper := services.NewSweeper(attemptService, redisClient, cfg.SweepInterval, cfg.SweepBatchSize, time.Now)
	go sweeper.Run(ctx)

	if err := handlers.RegisterValidators(); err != nil {
		log.Fatal("Failed to register validators:", err)
	}

	// Initialize handlers
	quizHandler := handlers.NewQuizHandler(quizService)
	attemptHandler := handlers.NewAttemptHandler(attemptService, gradingService)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS(cfg.CORSAllowOrigins))
	routes.SetupRoutes(router, quizHandler, attemptHandler, attemptService, hub, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}
}
