package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds queue configuration
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string `mapstructure:"redis_addr"`
	// Password is the Redis password (optional)
	Password string `mapstructure:"redis_password"`
	// DB is the Redis database number
	DB int `mapstructure:"redis_db"`
	// Key names the main list; processing and dead lists are derived from it
	Key string `mapstructure:"key"`
	// Workers is the number of worker goroutines
	Workers int `mapstructure:"workers"`
	// MaxAttempts bounds deliveries of a message that keeps failing internally
	MaxAttempts int `mapstructure:"max_attempts"`
	// PollTimeout is how long a dequeue blocks before returning empty
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		Key:         "registry:ingest",
		Workers:     4,
		MaxAttempts: 3,
		PollTimeout: time.Second,
	}
}

// Stats holds the length of each list
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// RedisQueue is a reliable queue: a dequeued message moves atomically to a
// processing list and stays there until it is acked, retried or dead-lettered.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
}

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(cfg Config) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisQueueWithClient(client, cfg), nil
}

// NewRedisQueueWithClient creates a queue on an existing client
func NewRedisQueueWithClient(client *redis.Client, cfg Config) *RedisQueue {
	def := DefaultConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &RedisQueue{client: client, cfg: cfg}
}

// Config returns the effective configuration
func (q *RedisQueue) Config() Config {
	return q.cfg
}

func (q *RedisQueue) mainKey() string       { return q.cfg.Key }
func (q *RedisQueue) processingKey() string { return q.cfg.Key + ":processing" }
func (q *RedisQueue) deadKey() string       { return q.cfg.Key + ":dead" }

// Ping checks the Redis connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue adds a message to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, msg *Message) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.mainKey(), raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue message %s: %w", msg.ID, err)
	}
	return nil
}

// Dequeue blocks up to the poll timeout for the next message. It returns
// nil without error when the queue stayed empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	raw, err := q.client.BLMove(ctx, q.mainKey(), q.processingKey(), "RIGHT", "LEFT", q.cfg.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		// An undecodable entry can never succeed
		_, dlErr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey(), 1, raw)
			pipe.LPush(ctx, q.deadKey(), raw)
			return nil
		})
		if dlErr != nil {
			return nil, fmt.Errorf("%w (dead-letter failed: %v)", err, dlErr)
		}
		return nil, err
	}
	return msg, nil
}

// Ack removes a delivered message for good
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, msg.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}
	return nil
}

// Retry puts a delivered message back on the queue with its attempt count
// incremented
func (q *RedisQueue) Retry(ctx context.Context, msg *Message) error {
	return q.move(ctx, msg, q.mainKey(), "retry")
}

// DeadLetter moves a delivered message to the dead list
func (q *RedisQueue) DeadLetter(ctx context.Context, msg *Message) error {
	return q.move(ctx, msg, q.deadKey(), "dead-letter")
}

func (q *RedisQueue) move(ctx context.Context, msg *Message, dest, op string) error {
	old := msg.raw
	msg.Attempts++
	raw, err := msg.encode()
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, old)
		pipe.LPush(ctx, dest, raw)
		return nil
	})
	if err != nil {
		msg.Attempts--
		return fmt.Errorf("failed to %s message %s: %w", op, msg.ID, err)
	}
	msg.raw = raw
	return nil
}

// Recover moves every message stranded in the processing list back onto
// the dequeue end of the queue, oldest delivery first in line. Call it
// before starting workers; messages held by a live worker would be
// delivered twice.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		// The processing list holds the newest delivery on the left
		err := q.client.LMove(ctx, q.processingKey(), q.mainKey(), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover processing messages: %w", err)
		}
		n++
	}
}

// DeadLetters returns up to limit dead messages, newest first
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]*Message, error) {
	raws, err := q.client.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	msgs := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Stats returns the current list lengths
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var pending, processing, dead *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.mainKey())
		processing = pipe.LLen(ctx, q.processingKey())
		dead = pipe.LLen(ctx, q.deadKey())
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Processing: processing.Val(), Dead: dead.Val()}, nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
