// Package redis implements the quote cache: latest quotes and aggregated
// history bars written to Redis for fast reads by the HTTP API, with a
// circuit breaker guarding the hot write path.
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

const (
	// Stream trimming: ~3h of streamed quotes + buffer
	quoteStreamMaxLen = 12000
	// ~2 weeks of 1m session bars
	barStreamMaxLen = 6000

	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Circuit breaker tuning; zero values pick defaults.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Writer writes quotes and history bars to Redis.
type Writer struct {
	client *goredis.Client
	cb     *CircuitBreaker

	// OnWrite is called with the latency of each successful pipeline write.
	OnWrite func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the write-path circuit breaker so callers can observe
// state transitions.
func (w *Writer) Breaker() *CircuitBreaker { return w.cb }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
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

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 10 * time.Second
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{
		client: client,
		cb:     NewCircuitBreaker(maxFailures, resetTimeout),
	}, nil
}

// Run reads quotes from quoteCh and writes them to Redis.
// Blocks until ctx is cancelled or quoteCh is closed.
func (w *Writer) Run(ctx context.Context, quoteCh <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quoteCh:
			if !ok {
				return
			}
			w.writeQuote(ctx, q)
		}
	}
}

// WriteBar stores one aggregated history bar for a symbol. The stream entry
// ID is the bar's millisecond timestamp so ReadBars can range by time.
func (w *Writer) WriteBar(ctx context.Context, symbol string, p model.PricePoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return w.cb.Execute(func() error {
		start := time.Now()

		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "bars:" + symbol,
			ID:     fmt.Sprintf("%d-0", p.TS.UnixMilli()),
			MaxLen: barStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(data)},
		})
		pipe.Set(ctx, "bars:latest:"+symbol, string(data), defaultLatestTTL)

		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[redis] bar pipeline error for %s: %v", symbol, err)
			return err
		}
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start))
		}
		return nil
	})
}

// writeQuote performs pipelined writes for one quote: SET latest with TTL,
// XADD to the symbol's stream, PUBLISH for live subscribers.
func (w *Writer) writeQuote(ctx context.Context, q model.Quote) {
	jsonData := string(q.JSON())
	latestKey := "quote:latest:" + q.Symbol
	streamKey := "quote:stream:" + q.Symbol
	pubsubCh := "pub:quote:" + q.Symbol

	err := w.cb.Execute(func() error {
		start := time.Now()

		pipe := w.client.Pipeline()
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: quoteStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, pubsubCh, jsonData)

		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start))
		}
		return nil
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] quote pipeline error for %s: %v", q.Symbol, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
