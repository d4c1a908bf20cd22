package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading assistant.
type Metrics struct {
	QuotesTotal   prometheus.Counter
	BarsTotal     prometheus.Counter
	WSReconnects  prometheus.Counter
	DroppedQuotes prometheus.Counter

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Order lifecycle
	OrderEvents *prometheus.CounterVec // labels: event=created|submitted|filled|cancelled|rejected|expired
	FillsTotal  prometheus.Counter
	OpenOrders  prometheus.Gauge

	// Persistence
	JournalWriteDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_quotes_total",
			Help: "Total quotes received from the stream",
		}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_bars_total",
			Help: "Total aggregated history bars emitted",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		DroppedQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_dropped_quotes_total",
			Help: "Quotes dropped (late or channel full)",
		}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped quotes)",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assist_fanout_drops_total",
			Help: "Quotes dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "assist_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		OrderEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assist_order_events_total",
			Help: "Order lifecycle events by type",
		}, []string{"event"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_fills_total",
			Help: "Total fill events applied to orders",
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assist_open_orders",
			Help: "Current number of non-terminal orders",
		}),

		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assist_journal_write_duration_seconds",
			Help:    "Order journal write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assist_redis_write_duration_seconds",
			Help:    "Redis quote cache write latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assist_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assist_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assist_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.QuotesTotal,
		m.BarsTotal,
		m.WSReconnects,
		m.DroppedQuotes,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.OrderEvents,
		m.FillsTotal,
		m.OpenOrders,
		m.JournalWriteDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastQuoteTime  time.Time `json:"last_quote_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastQuoteTime(t time.Time) {
	h.mu.Lock()
	h.LastQuoteTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.WSConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Quote age
	quoteAge := ""
	if !h.LastQuoteTime.IsZero() {
		quoteAge = time.Since(h.LastQuoteTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastQuoteTime   string  `json:"last_quote_time"`
		QuoteAge        string  `json:"quote_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastQuoteTime:   h.LastQuoteTime.Format(time.RFC3339),
		QuoteAge:        quoteAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
