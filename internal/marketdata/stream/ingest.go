// Package stream connects to the provider's quote WebSocket feed and pushes
// normalized quotes into the pipeline. Reconnects with exponential backoff;
// bursts are absorbed by an SPSC ring buffer so the read loop never blocks.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"trade-assistv1/internal/model"
	"trade-assistv1/internal/ringbuf"
)

// Config holds configuration for the stream ingest.
type Config struct {
	URL       string   // ws:// or wss:// feed endpoint
	FeedToken string   // session feed token, sent as a header
	Symbols   []string // symbols to subscribe on connect

	MaxRetries      int           // reconnect attempts before giving up (0 = unlimited)
	RetryDelay      time.Duration // initial backoff (default 2s)
	RetryMultiplier float64       // backoff growth factor (default 2)
	PingInterval    time.Duration // keepalive interval (default 25s)

	RingSize int // quote burst buffer capacity (default 4096)
}

// subscribeMsg is the subscription request sent after connect.
type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Ingest streams quotes from the provider WebSocket into a channel.
type Ingest struct {
	cfg  Config
	ring *ringbuf.Ring

	// Optional metrics hooks
	OnReconnect func()
	OnDrop      func()
}

// New creates a new Ingest instance.
func New(cfg Config) *Ingest {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RetryMultiplier == 0 {
		cfg.RetryMultiplier = 2
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.RingSize == 0 {
		cfg.RingSize = 4096
	}
	return &Ingest{cfg: cfg, ring: ringbuf.New(cfg.RingSize)}
}

// Overflow returns the number of quotes dropped due to a full burst buffer.
func (ing *Ingest) Overflow() uint64 { return ing.ring.Overflow() }

// Run connects and streams quotes into quoteCh until ctx is cancelled.
// Reconnects on failure with exponential backoff; returns a non-nil error
// only when MaxRetries is exhausted.
func (ing *Ingest) Run(ctx context.Context, quoteCh chan<- model.Quote) error {
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	go ing.drain(drainCtx, quoteCh)

	delay := ing.cfg.RetryDelay
	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := ing.runConn(ctx)
		if ctx.Err() != nil {
			return nil
		}
		attempts++
		if ing.cfg.MaxRetries > 0 && attempts >= ing.cfg.MaxRetries {
			return fmt.Errorf("stream: giving up after %d attempts: %w", attempts, err)
		}

		log.Printf("[stream] connection lost (%v), reconnecting in %s", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * ing.cfg.RetryMultiplier)
		if delay > time.Minute {
			delay = time.Minute
		}
	}
}

// runConn holds one WebSocket connection open: subscribes, reads quotes into
// the ring, and sends keepalive pings. Returns when the connection drops.
func (ing *Ingest) runConn(ctx context.Context) error {
	header := map[string][]string{}
	if ing.cfg.FeedToken != "" {
		header["Authorization"] = []string{"Bearer " + ing.cfg.FeedToken}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := subscribeMsg{Action: "subscribe", Symbols: ing.cfg.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[stream] connected to %s, subscribed to %d symbols", ing.cfg.URL, len(ing.cfg.Symbols))

	// Close the connection when ctx is cancelled to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	pinger := time.NewTicker(ing.cfg.PingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pinger.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var q model.Quote
		if err := json.Unmarshal(raw, &q); err != nil {
			log.Printf("[stream] parse error: %v", err)
			continue
		}
		if !ing.ring.Push(q) {
			if ing.OnDrop != nil {
				ing.OnDrop()
			}
		}
	}
}

// drain pops quotes off the ring buffer into quoteCh.
func (ing *Ingest) drain(ctx context.Context, quoteCh chan<- model.Quote) {
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()
	for {
		q, ok := ing.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		select {
		case quoteCh <- q:
		case <-ctx.Done():
			return
		}
	}
}
