package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trade-assistv1/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader reads back cached quotes and history bars.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// NewReaderFromClient wraps an existing client (shares the writer's pool).
func NewReaderFromClient(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// LatestQuote returns the cached latest quote for a symbol.
// Returns goredis.Nil (via the wrapped error) when no quote is cached.
func (r *Reader) LatestQuote(ctx context.Context, symbol string) (model.Quote, error) {
	data, err := r.client.Get(ctx, "quote:latest:"+symbol).Result()
	if err != nil {
		return model.Quote{}, fmt.Errorf("redis GET quote:latest:%s: %w", symbol, err)
	}
	var q model.Quote
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return model.Quote{}, fmt.Errorf("unmarshal cached quote %s: %w", symbol, err)
	}
	return q, nil
}

// ReadBars returns cached bars for a symbol after the given unix second.
// Bar stream IDs are millisecond timestamps, so the range starts just past
// afterTS and runs to the newest entry.
func (r *Reader) ReadBars(ctx context.Context, symbol string, afterTS int64) ([]model.PricePoint, error) {
	start := fmt.Sprintf("%d", afterTS*1000+1)
	msgs, err := r.client.XRange(ctx, "bars:"+symbol, start, "+").Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis XRANGE bars:%s: %w", symbol, err)
	}

	points := make([]model.PricePoint, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var p model.PricePoint
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Printf("[redis-reader] skipping malformed bar for %s: %v", symbol, err)
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
