package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sweeperLockKey = "quizattempt:sweeper:lock"

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Sweeper abandons in-progress attempts whose time limit has passed and that
// nobody touches again. With a Redis client only the instance holding the
// lock sweeps on a given tick.
type Sweeper struct {
	attempts  *AttemptService
	redis     *redis.Client
	interval  time.Duration
	batchSize int
	now       Clock
}

func NewSweeper(attempts *AttemptService, redisClient *redis.Client, interval time.Duration, batchSize int, clock Clock) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{
		attempts:  attempts,
		redis:     redisClient,
		interval:  interval,
		batchSize: batchSize,
		now:       clock,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Expiry sweeper started (interval %s, batch %d)", s.interval, s.batchSize)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Printf("Expiry sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce runs a single pass and returns how many attempts it abandoned.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	token, acquired, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer s.release(token)

	expired, err := s.attempts.ExpiredAttempts(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load expired attempts: %w", err)
	}

	abandoned := 0
	for i := range expired {
		changed, err := s.attempts.AbandonExpired(ctx, &expired[i])
		if err != nil {
			log.Printf("Failed to abandon expired attempt %s: %v", expired[i].ID, err)
			continue
		}
		if changed {
			abandoned++
		}
	}
	if abandoned > 0 {
		log.Printf("Expiry sweep abandoned %d attempts", abandoned)
	}
	return abandoned, nil
}

func (s *Sweeper) acquire(ctx context.Context) (string, bool, error) {
	if s.redis == nil {
		return "", true, nil
	}
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, sweeperLockKey, token, s.interval).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire sweeper lock: %w", err)
	}
	return token, ok, nil
}

func (s *Sweeper) release(token string) {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseLock.Run(ctx, s.redis, []string{sweeperLockKey}, token).Err(); err != nil {
		log.Printf("Failed to release sweeper lock: %v", err)
	}
}
