// cmd/quotesim — Demo WebSocket quote server.
// Broadcasts simulated quotes for running the assistant in staging mode
// without real provider credentials.
//
// Quote JSON shape is identical to model.Quote:
//
//	{"symbol":"ACME","price":"101.35","size":40,"quote_ts":"..."}
//
// Config (env vars):
//
//	QUOTESIM_ADDR         — listen address  (default: ":9001")
//	QUOTESIM_SYMBOLS      — comma-separated SYMBOL:STARTPRICE pairs (default: "ACME:100")
//	QUOTESIM_INTERVAL_MS  — broadcast interval milliseconds (default: "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// quoteMsg mirrors model.Quote for JSON serialisation.
type quoteMsg struct {
	Symbol  string          `json:"symbol"`
	Price   decimal.Decimal `json:"price"`
	Size    int64           `json:"size"`
	QuoteTS time.Time       `json:"quote_ts"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  decimal.Decimal
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop quote
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[quotesim] upgrade error: %v", err)
			return
		}
		log.Printf("[quotesim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[quotesim] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: consumes subscribe requests and keepalives so the
		// connection stays healthy. All quotes are broadcast regardless.
		go func() {
			for {
				var sub struct {
					Action  string   `json:"action"`
					Symbols []string `json:"symbols"`
				}
				if err := conn.ReadJSON(&sub); err != nil {
					return
				}
				if sub.Action == "subscribe" {
					log.Printf("[quotesim] %s subscribed to %v", r.RemoteAddr, sub.Symbols)
				}
			}
		}()

		// Write pump: sends quote JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Quote generator ─────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price decimal.Decimal) decimal.Decimal {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	delta := price.Mul(decimal.NewFromFloat(pct))
	newPrice := price.Add(delta).Round(2)
	floor := decimal.NewFromFloat(0.01)
	if newPrice.LessThan(floor) {
		return floor
	}
	return newPrice
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(instruments[i].Price)
			msg := quoteMsg{
				Symbol:  instruments[i].Symbol,
				Price:   instruments[i].Price,
				Size:    int64(rand.Intn(100) + 1),
				QuoteTS: time.Now().UTC(),
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[quotesim] starting demo quote server...")

	addr := envOrDefault("QUOTESIM_ADDR", ":9001")
	symbolsEnv := envOrDefault("QUOTESIM_SYMBOLS", "ACME:100")
	intervalMs := envIntOrDefault("QUOTESIM_INTERVAL_MS", 100)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[quotesim] no symbols configured via QUOTESIM_SYMBOLS")
	}
	log.Printf("[quotesim] instruments: %+v", instruments)
	log.Printf("[quotesim] broadcast interval: %dms", intervalMs)

	h := newHub()

	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"quotesim"}`)
	})

	log.Printf("[quotesim] ✅ listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[quotesim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseInstruments parses "SYMBOL:STARTPRICE,SYMBOL:STARTPRICE,..." pairs.
// A missing start price defaults to 100.
func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		symbol := strings.ToUpper(strings.TrimSpace(seg[0]))
		if symbol == "" {
			log.Printf("[quotesim] skipping malformed symbol entry: %q", part)
			continue
		}
		price := decimal.NewFromInt(100)
		if len(seg) == 2 {
			p, err := decimal.NewFromString(strings.TrimSpace(seg[1]))
			if err != nil || !p.IsPositive() {
				log.Printf("[quotesim] bad start price in %q, using 100", part)
			} else {
				price = p
			}
		}
		result = append(result, instrument{Symbol: symbol, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
