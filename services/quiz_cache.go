package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"lmsquiz/models"

	"github.com/redis/go-redis/v9"
)

// QuizCache keeps quiz definitions in Redis under quiz:<id>. A nil cache or a
// nil client behaves as an always-empty cache.
type QuizCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// cachedQuiz carries the fields models.Quiz hides from JSON.
type cachedQuiz struct {
	Quiz           models.Quiz `json:"quiz"`
	AccessCodeHash string      `json:"access_code_hash,omitempty"`
}

func NewQuizCache(client *redis.Client, ttl time.Duration) *QuizCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &QuizCache{redis: client, ttl: ttl}
}

func quizCacheKey(quizID uint) string {
	return fmt.Sprintf("quiz:%d", quizID)
}

func (c *QuizCache) enabled() bool {
	return c != nil && c.redis != nil
}

// Get returns the cached quiz, or false on a miss or any Redis error.
func (c *QuizCache) Get(ctx context.Context, quizID uint) (*models.Quiz, bool) {
	if !c.enabled() {
		return nil, false
	}

	data, err := c.redis.Get(ctx, quizCacheKey(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Redis error getting quiz %d: %v", quizID, err)
		}
		return nil, false
	}

	var entry cachedQuiz
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("Failed to unmarshal cached quiz %d: %v", quizID, err)
		return nil, false
	}
	entry.Quiz.AccessCodeHash = entry.AccessCodeHash
	return &entry.Quiz, true
}

func (c *QuizCache) Set(ctx context.Context, quiz *models.Quiz) error {
	if !c.enabled() {
		return nil
	}

	data, err := json.Marshal(cachedQuiz{Quiz: *quiz, AccessCodeHash: quiz.AccessCodeHash})
	if err != nil {
		return fmt.Errorf("failed to marshal quiz: %w", err)
	}
	if err := c.redis.Set(ctx, quizCacheKey(quiz.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store quiz in Redis: %w", err)
	}
	return nil
}

func (c *QuizCache) Invalidate(ctx context.Context, quizID uint) error {
	if !c.enabled() {
		return nil
	}
	if err := c.redis.Del(ctx, quizCacheKey(quizID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate quiz cache: %w", err)
	}
	return nil
}
