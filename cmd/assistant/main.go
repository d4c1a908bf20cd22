package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"trade-assistv1/config"
	"trade-assistv1/internal/execution"
	"trade-assistv1/internal/gateway"
	"trade-assistv1/internal/logger"
	"trade-assistv1/internal/marketdata"
	"trade-assistv1/internal/marketdata/agg"
	"trade-assistv1/internal/marketdata/bus"
	"trade-assistv1/internal/marketdata/stream"
	"trade-assistv1/internal/markethours"
	"trade-assistv1/internal/metrics"
	"trade-assistv1/internal/model"
	"trade-assistv1/internal/notification"
	"trade-assistv1/internal/oms"
	"trade-assistv1/internal/portfolio"
	redisstore "trade-assistv1/internal/store/redis"
	sqlitestore "trade-assistv1/internal/store/sqlite"
	"trade-assistv1/pkg/quoteapi"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	appLog := logger.Init("assistant", parseLogLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[assistant] starting...")
	start := time.Now()

	// ---- Staging mode check ----
	stagingMode := strings.EqualFold(os.Getenv("STAGING_MODE"), "true")
	if stagingMode {
		log.Println("[assistant] *** STAGING MODE — using quotesim WS instead of the provider feed ***")
	}

	// ---- Load config from env ----
	var cfg *config.Config
	if !stagingMode {
		cfg = config.Load() // requires provider env vars
	} else {
		cfg = stagingConfig()
	}

	symbols := cfg.ParseSymbols()
	appLog.Info("configured",
		"symbols", symbols,
		"bar_interval_sec", cfg.BarIntervalSec,
		"allow_fractional", cfg.AllowFractional,
		"slippage_bps", cfg.SlippageBps,
		"staging", stagingMode,
	)

	// ---- Setup pipeline channels ----
	quoteCh := make(chan model.Quote, 10000)
	barCh := make(chan agg.Bar, 5000)
	sqliteBarCh := make(chan agg.Bar, 5000)

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Order journal + bar archive (off hot path) ----
	os.MkdirAll("data", 0o755)
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[assistant] journal init failed: %v", err)
	}
	defer journal.Close()

	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.BarArchive})
	if err != nil {
		log.Fatalf("[assistant] bar archive init failed: %v", err)
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)
	log.Println("[assistant] bar archive ready")
	for _, sym := range symbols {
		if ts, err := sqlWriter.GetLastTimestamp(sym); err == nil && ts > 0 {
			log.Printf("[assistant] archive high-water for %s: %s",
				sym, time.Unix(ts, 0).UTC().Format(time.RFC3339))
		}
	}

	// ---- Quote cache writer (Redis) ----
	var redisWriter *redisstore.Writer
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[assistant] WARNING: redis init failed: %v (continuing without quote cache)", err)
		redisWriter = nil
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
		redisWriter.OnWrite = func(d time.Duration) {
			prom.RedisWriteDur.Observe(d.Seconds())
		}
		redisWriter.Breaker().OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		log.Println("[assistant] quote cache writer ready")
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Fan-out for quotes (cache, bars, paper venue, portfolio) ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	var redisQuoteCh <-chan model.Quote
	if redisWriter != nil {
		redisQuoteCh = fanout.Subscribe()
	}
	aggQuoteCh := fanout.Subscribe()
	paperQuoteCh := fanout.Subscribe()
	pfQuoteCh := fanout.Subscribe()

	go fanout.Run(ctx, quoteCh)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
				if markethours.IsMarketOpen(time.Now()) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
			}
		}
	}()

	if redisWriter != nil {
		go redisWriter.Run(ctx, redisQuoteCh)
	}

	// ---- Bar aggregator ----
	aggregator := agg.New(cfg.BarIntervalSec)
	aggregator.OnDroppedQuote = func() {
		prom.DroppedQuotes.Inc()
	}
	go aggregator.Run(ctx, aggQuoteCh, barCh)

	// ---- Tee finalized bars to the archive and the cache (off hot path) ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case bar, ok := <-barCh:
				if !ok {
					return
				}
				prom.BarsTotal.Inc()
				select {
				case sqliteBarCh <- bar:
				default:
				}
				if redisWriter != nil {
					if err := redisWriter.WriteBar(ctx, bar.Symbol, bar.Point); err != nil {
						log.Printf("[assistant] bar cache write failed: %v", err)
					}
				}
			}
		}
	}()
	go sqlWriter.Run(ctx, sqliteBarCh)

	// ---- Portfolio, risk, paper venue ----
	pf := portfolio.New()
	risk := portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), pf)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case q, ok := <-pfQuoteCh:
				if !ok {
					return
				}
				prom.QuotesTotal.Inc()
				health.SetLastQuoteTime(q.TS)
				pf.UpdatePrice(q)
			}
		}
	}()

	paper := execution.NewPaperGateway(1024, cfg.SlippageBps, decimal.Zero)
	go paper.Run(ctx, paperQuoteCh)

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	notifier := notification.NewMultiNotifier(backends...)

	// ---- Order manager ----
	orders := oms.New(oms.Config{AllowFractional: cfg.AllowFractional}, paper, journal, pf, risk, notifier, prom)
	if err := orders.Restore(); err != nil {
		log.Fatalf("[assistant] order restore failed: %v", err)
	}
	if n := orders.ExpireDayOrders(ctx, time.Now()); n > 0 {
		log.Printf("[assistant] expired %d stale DAY orders on startup", n)
	}
	go orders.Run(ctx)

	// ---- Client-facing gateway (WS hub + REST) ----
	var hub *gateway.Hub
	if redisWriter != nil {
		hub = gateway.NewHub(redisWriter.Client(), symbols)
		go hub.Run(ctx)
	} else {
		hub = gateway.NewHub(nil, symbols)
	}
	go hub.StartMetricsBroadcast(ctx, start)

	orders.OnUpdate = func(o model.Order) {
		gateway.PublishOrderUpdate(hub, o)
	}

	var quoteReader *redisstore.Reader
	if redisWriter != nil {
		quoteReader = redisstore.NewReaderFromClient(redisWriter.Client())
	}
	barReader, err := sqlitestore.NewReader(cfg.BarArchive)
	if err != nil {
		log.Fatalf("[assistant] bar reader init failed: %v", err)
	}
	defer barReader.Close()

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Deps{
		Hub:       hub,
		Orders:    orders,
		Portfolio: pf,
		Risk:      risk,
		Quotes:    quoteReader,
		Bars:      barReader,
		Start:     start,
	})
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: mux}
	go func() {
		log.Printf("[assistant] API listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[assistant] API server failed: %v", err)
		}
	}()

	// ═══════════════════════════════════════════════════════════════
	// Feed lifecycle: STAGING vs PRODUCTION
	// ═══════════════════════════════════════════════════════════════
	if stagingMode {
		// ---- STAGING: connect straight to the quotesim WS ----
		simWSURL := getEnv("SIM_WS_URL", "ws://localhost:9001/ws")
		log.Printf("[assistant] staging quote source: %s", simWSURL)

		ingest := stream.New(stream.Config{
			URL:     simWSURL,
			Symbols: symbols,
		})
		ingest.OnReconnect = func() {
			prom.WSReconnects.Inc()
		}
		ingest.OnDrop = func() {
			prom.RingBufOverflow.Inc()
		}
		health.SetWSConnected(true)

		go func() {
			if err := ingest.Run(ctx, quoteCh); err != nil {
				log.Printf("[assistant] quotesim stream error: %v", err)
				health.SetWSConnected(false)
			}
		}()

		log.Println("[assistant] ╔══════════════════════════════════════════════════════════════╗")
		log.Println("[assistant] ║  Trading Assistant — STAGING MODE                            ║")
		log.Println("[assistant] ║                                                              ║")
		log.Println("[assistant] ║  [QuoteSim WS] → [Fanout] → [Cache/Bars/Paper/Portfolio]     ║")
		log.Printf("[assistant] ║  Source: %-51s ║", simWSURL)
		log.Println("[assistant] ║  No provider credentials required                            ║")
		log.Println("[assistant] ╚══════════════════════════════════════════════════════════════╝")
	} else {
		// ---- PRODUCTION: provider WS with market hours gating ----
		go func() {
			for {
				// --- Wait for market open ---
				now := time.Now()
				if !markethours.IsMarketOpen(now) {
					next := markethours.NextOpen(now)
					wait := next.Sub(now)
					log.Printf("[assistant] ⏸ market closed. %s", markethours.StatusString(now))
					log.Printf("[assistant] sleeping %v until next open", wait.Truncate(time.Second))
					health.SetWSConnected(false)

					select {
					case <-ctx.Done():
						return
					case <-time.After(wait):
					}
				}

				// --- Fresh login (new TOTP + session) ---
				log.Println("[assistant] 🔑 market open — generating fresh session...")
				totpCode, err := totp.GenerateCode(cfg.FeedTOTPSecret, time.Now())
				if err != nil {
					log.Printf("[assistant] TOTP generation failed: %v, retrying in 30s", err)
					time.Sleep(30 * time.Second)
					continue
				}

				qc := quoteapi.New(quoteapi.Config{
					RootURL: cfg.FeedRootURL,
					APIKey:  cfg.FeedAPIKey,
				})
				if err := qc.GenerateSession(ctx, cfg.FeedClientCode, cfg.FeedPassword, totpCode); err != nil {
					log.Printf("[assistant] login failed: %v, retrying in 30s", err)
					time.Sleep(30 * time.Second)
					continue
				}
				feedToken := qc.FeedToken()
				if feedToken == "" {
					log.Println("[assistant] empty feed token from session, retrying in 30s")
					time.Sleep(30 * time.Second)
					continue
				}

				// --- New trading session: reset daily limits, drop stale DAY orders ---
				risk.ResetDaily()
				if n := orders.ExpireDayOrders(ctx, time.Now()); n > 0 {
					log.Printf("[assistant] expired %d DAY orders from previous session", n)
				}

				// --- Warm the pipeline with a REST snapshot per symbol so the
				// paper venue and portfolio have prices before the stream ticks ---
				provider := marketdata.NewRESTProvider(qc)
				for _, sym := range symbols {
					stock, err := provider.FetchQuote(ctx, sym)
					if err != nil {
						log.Printf("[assistant] warmup quote for %s failed: %v", sym, err)
						continue
					}
					select {
					case quoteCh <- model.Quote{Symbol: stock.Symbol, Price: stock.Price, TS: stock.TS}:
					default:
					}
				}

				// --- Connect WS with a deadline at market close ---
				closeTime := markethours.TodayClose(time.Now())
				wsCtx, wsCancel := context.WithDeadline(ctx, closeTime)

				ingest := stream.New(stream.Config{
					URL:       cfg.FeedWSURL,
					FeedToken: feedToken,
					Symbols:   symbols,
				})
				ingest.OnReconnect = func() {
					prom.WSReconnects.Inc()
				}
				ingest.OnDrop = func() {
					prom.RingBufOverflow.Inc()
				}

				health.SetWSConnected(true)
				log.Printf("[assistant] 📡 feed connected — will disconnect at %s",
					closeTime.Format("15:04:05"))

				// Blocks until wsCtx deadline (market close) or parent ctx cancelled
				if err := ingest.Run(wsCtx, quoteCh); err != nil {
					log.Printf("[assistant] feed session ended: %v", err)
				}
				wsCancel()
				health.SetWSConnected(false)
				qc.Logout(context.Background(), cfg.FeedClientCode)
				log.Println("[assistant] 🔌 feed disconnected — market close")

				if ctx.Err() != nil {
					return
				}
				// Loop back to wait for next market open
			}
		}()

		log.Println("[assistant] ╔══════════════════════════════════════════════════════════════╗")
		log.Println("[assistant] ║  Trading Assistant — Production Mode                         ║")
		log.Println("[assistant] ║                                                              ║")
		log.Println("[assistant] ║  Pipeline (24/7): [Fanout] → [Cache/Bars/Paper/Portfolio]    ║")
		log.Println("[assistant] ║  Feed (market hours): 9:30 AM – 4:00 PM ET, Mon–Fri          ║")
		log.Println("[assistant] ║  Fresh login + feed token at each market open                ║")
		log.Println("[assistant] ╚══════════════════════════════════════════════════════════════╝")
		log.Printf("[assistant] %s", markethours.StatusString(time.Now()))
	}

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[assistant] shutdown signal received, cleaning up...")
	cancel()

	// Give goroutines time to flush buffers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[assistant] shutdown complete.")
}

// stagingConfig builds a config from optional env vars only, so staging runs
// without provider credentials.
func stagingConfig() *config.Config {
	return &config.Config{
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		JournalPath:     getEnv("JOURNAL_PATH", "data/orders.db"),
		BarArchive:      getEnv("BAR_ARCHIVE_PATH", "data/bars.db"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		WatchSymbols:    getEnv("WATCH_SYMBOLS", "ACME"),
		BarIntervalSec:  getIntEnv("BAR_INTERVAL_SEC", 60),
		AllowFractional: strings.EqualFold(getEnv("ALLOW_FRACTIONAL", "false"), "true"),
		SlippageBps:     int64(getIntEnv("SLIPPAGE_BPS", 5)),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[assistant] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
