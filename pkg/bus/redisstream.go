package bus

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStream is a Listener backed by a Redis stream and consumer group,
// grounded in the teacher pack's only Redis client usage
// (yungbote-neurobridge-backend's internal/realtime/bus/redis_bus.go):
// same goredis.NewClient construction and ping-on-dial, generalised from
// pub/sub fan-out to a consumer group so Acknowledge can map onto XACK and
// redelivery onto XREADGROUP's pending-entries semantics.
type RedisStream struct {
	rdb      *goredis.Client
	stream   string
	group    string
	consumer string

	blockFor time.Duration
}

// RedisStreamConfig configures a RedisStream listener.
type RedisStreamConfig struct {
	Addr     string
	Stream   string
	Group    string
	Consumer string
	BlockFor time.Duration
}

// NewRedisStream dials Redis, creates the consumer group if it doesn't
// exist yet (starting from the beginning of the stream), and returns a
// ready Listener.
func NewRedisStream(ctx context.Context, cfg RedisStreamConfig) (*RedisStream, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("bus: stream name required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("bus: consumer group required")
	}
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: redis ping: %w", err)
	}

	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: create consumer group: %w", err)
	}

	return &RedisStream{
		rdb:      rdb,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		blockFor: cfg.BlockFor,
	}, nil
}

func isBusyGroupError(err error) bool {
	return err != nil && len(err.Error()) >= 4 && err.Error()[:4] == "BUSY"
}

func (r *RedisStream) Next(ctx context.Context) (*Message, error) {
	// "0" re-reads this consumer's delivered-but-unacknowledged entries;
	// only when there are none does ">" ask for new ones.
	var res []goredis.XStream
	var err error
	for _, id := range []string{"0", ">"} {
		res, err = r.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, id},
			Count:    1,
			Block:    r.blockFor,
		}).Result()
		if err != nil && err != goredis.Nil || len(res) > 0 && len(res[0].Messages) > 0 {
			break
		}
	}

	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("bus: xreadgroup: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}

	entry := res[0].Messages[0]
	body, _ := entry.Values["body"].(string)

	return &Message{
		ID:         entry.ID,
		Body:       []byte(body),
		ReceivedAt: time.Now(),
	}, nil
}

func (r *RedisStream) Acknowledge(ctx context.Context, id string) error {
	return r.rdb.XAck(ctx, r.stream, r.group, id).Err()
}

func (r *RedisStream) Close() error {
	return r.rdb.Close()
}

var _ Listener = (*RedisStream)(nil)
