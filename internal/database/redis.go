package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// DeadlineQueueKey is the sorted set holding every pending session deadline.
// Score is the deadline as unix seconds, member is "<session id>:<phase>".
const DeadlineQueueKey = "escort:deadlines"

// RedisDB wraps a Redis client for the service's fast, shared state:
//   - The durable deadline queue driving the escalation scheduler
//   - Operator escalation pub/sub
//   - Token blacklisting for revocation
//   - Rate limiting per IP address
//
// All keys use structured naming patterns for organization and monitoring.
type RedisDB struct {
	client *redis.Client // Underlying Redis client with connection pooling
}

// NewRedisDB creates a new Redis connection with automatic retry.
// Implements exponential backoff retry logic similar to PostgreSQL connection.
//
// Retry configuration:
//   - Max attempts: 5
//   - Initial delay: 100ms
//   - Max delay: 3 seconds
//   - Total timeout: 30 seconds
//
// Example:
//
//	redisDB, err := database.NewRedisDB(&cfg.Redis)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Redis connection failed")
//	}
//	defer redisDB.Close()
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.MaxAttempts = 5
	retryConfig.InitialDelay = 100 * time.Millisecond
	retryConfig.MaxDelay = 3 * time.Second

	var lastErr error
	err := utils.Retry(ctx, retryConfig, func() error {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			lastErr = err
			log.Warn().Err(err).Msg("Failed to ping Redis, retrying...")
			return err
		}
		return nil
	})

	if err != nil {
		client.Close()
		if lastErr != nil {
			return nil, fmt.Errorf("failed to connect to Redis after retries: %w", lastErr)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis")

	return &RedisDB{client: client}, nil
}

// Close closes the Redis connection and releases all resources.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for advanced operations,
// such as building a cache.Cache on the same pool.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is alive and responsive.
// Used by the readiness endpoint.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ScheduleDeadline enqueues d at its absolute time. Re-scheduling an
// existing member keeps the original score (ZADD NX), so startup
// reconciliation can re-enqueue everything without moving deadlines.
//
// Example:
//
//	for _, d := range models.DeadlinesFor(session) {
//	    if err := redisDB.ScheduleDeadline(ctx, d); err != nil {
//	        return err
//	    }
//	}
func (r *RedisDB) ScheduleDeadline(ctx context.Context, d models.Deadline) error {
	err := r.client.ZAddNX(ctx, DeadlineQueueKey, redis.Z{
		Score:  float64(deadlineScore(d.At)),
		Member: d.Member(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule deadline: %w", err)
	}
	return nil
}

// deadlineScore rounds up to the next whole second so a deadline never
// becomes due before its exact time.
func deadlineScore(at time.Time) int64 {
	if at.Nanosecond() > 0 {
		return at.Unix() + 1
	}
	return at.Unix()
}

// DueDeadlines returns up to limit deadlines whose time is at or before
// now, earliest first. Members that fail to parse are dropped from the
// queue and logged.
func (r *RedisDB) DueDeadlines(ctx context.Context, now time.Time, limit int64) ([]models.Deadline, error) {
	entries, err := r.client.ZRangeByScoreWithScores(ctx, DeadlineQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due deadlines: %w", err)
	}

	deadlines := make([]models.Deadline, 0, len(entries))
	for _, z := range entries {
		member, _ := z.Member.(string)
		d, err := models.ParseDeadlineMember(member)
		if err != nil {
			log.Error().Err(err).Str("member", member).Msg("Dropping malformed deadline")
			r.client.ZRem(ctx, DeadlineQueueKey, member)
			continue
		}
		d.At = time.Unix(int64(z.Score), 0).UTC()
		deadlines = append(deadlines, d)
	}
	return deadlines, nil
}

// ClaimDeadline removes d from the queue and reports whether this caller
// removed it. ZREM is atomic, so among concurrent sweepers (in one process
// or many) exactly one claim per member succeeds.
func (r *RedisDB) ClaimDeadline(ctx context.Context, d models.Deadline) (bool, error) {
	n, err := r.client.ZRem(ctx, DeadlineQueueKey, d.Member()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim deadline: %w", err)
	}
	return n == 1, nil
}

// CancelDeadlines drops every pending deadline for the session. Called once
// a session leaves the monitored states.
func (r *RedisDB) CancelDeadlines(ctx context.Context, sessionID uuid.UUID) error {
	err := r.client.ZRem(ctx, DeadlineQueueKey,
		models.Deadline{SessionID: sessionID, Phase: models.PhaseBufferGrace}.Member(),
		models.Deadline{SessionID: sessionID, Phase: models.PhaseEscalate}.Member(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to cancel deadlines: %w", err)
	}
	return nil
}

// PendingDeadlines returns the queue length.
func (r *RedisDB) PendingDeadlines(ctx context.Context) (int64, error) {
	n, err := r.client.ZCard(ctx, DeadlineQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count deadlines: %w", err)
	}
	return n, nil
}

// PublishEscalation publishes an escalation notice on the operator channel.
// Returns the number of subscribers that received it.
func (r *RedisDB) PublishEscalation(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := r.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish escalation: %w", err)
	}
	return n, nil
}

// BlacklistToken adds a token to the blacklist for revocation.
// Blacklisted tokens are rejected even if they have valid signatures.
//
// Key pattern: "blacklist:{jti}"
//
// The blacklist entry automatically expires when the token would
// naturally expire, preventing unbounded memory growth.
func (r *RedisDB) BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	err := r.client.Set(ctx, key, "true", expiry).Err()
	if err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted checks if a token has been revoked.
func (r *RedisDB) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}

// IncrementRateLimit increments the fixed-window counter for caller and
// endpoint and returns the count including this request. The window starts
// with the first request.
//
// Key pattern: "ratelimit:{caller}:{endpoint}"
func (r *RedisDB) IncrementRateLimit(ctx context.Context, caller, endpoint string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", caller, endpoint)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window).Err()
		if err != nil {
			return 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	return count, nil
}
