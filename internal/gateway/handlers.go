package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trade-assistv1/internal/markethours"
	"trade-assistv1/internal/model"
	"trade-assistv1/internal/oms"
	"trade-assistv1/internal/portfolio"
	"trade-assistv1/internal/store/redis"
	"trade-assistv1/internal/store/sqlite"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps bundles the collaborators the REST handlers need.
type Deps struct {
	Hub       *Hub
	Orders    *oms.Manager
	Portfolio *portfolio.Portfolio
	Risk      *portfolio.RiskManager
	Quotes    *redis.Reader
	Bars      *sqlite.Reader
	Start     time.Time
}

// OrderRequest is the POST /api/v1/orders body.
type OrderRequest struct {
	Symbol     string            `json:"symbol"`
	Side       model.Side        `json:"side"`
	Qty        decimal.Decimal   `json:"qty"`
	Kind       model.OrderKind   `json:"kind"`
	TIF        model.TimeInForce `json:"tif,omitempty"`
	LimitPrice *decimal.Decimal  `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal  `json:"stop_price,omitempty"`
}

// SetCORS sets permissive CORS headers for browser clients.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes wires all REST and WS endpoints onto mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"uptime":        time.Since(d.Start).Round(time.Second).String(),
			"ws_clients":    d.Hub.ClientCount(),
			"market_open":   markethours.IsMarketOpen(now),
			"market_status": markethours.StatusString(now),
		})
	})

	mux.HandleFunc("/api/v1/quotes/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/api/v1/quotes/"))
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol required")
			return
		}
		if d.Quotes == nil {
			writeError(w, http.StatusServiceUnavailable, "quote cache unavailable")
			return
		}
		q, err := d.Quotes.LatestQuote(r.Context(), symbol)
		if err != nil {
			writeError(w, http.StatusNotFound, "no quote cached for "+symbol)
			return
		}
		writeJSON(w, http.StatusOK, q)
	})

	mux.HandleFunc("/api/v1/bars", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol required")
			return
		}
		afterTS, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)

		// Redis holds the recent window; the SQLite archive serves the rest.
		var points []model.PricePoint
		var err error
		if d.Quotes != nil {
			points, err = d.Quotes.ReadBars(r.Context(), symbol, afterTS)
		}
		if (err != nil || len(points) == 0) && d.Bars != nil {
			points, err = d.Bars.ReadBars(symbol, afterTS)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol": symbol,
			"bars":   points,
		})
	})

	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			activeOnly := r.URL.Query().Get("active") == "true"
			writeJSON(w, http.StatusOK, d.Orders.List(activeOnly))
		case http.MethodPost:
			handlePlaceOrder(w, r, d)
		default:
			writeError(w, http.StatusMethodNotAllowed, "GET or POST")
		}
	})

	mux.HandleFunc("/api/v1/orders/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid order id")
			return
		}
		switch r.Method {
		case http.MethodGet:
			o, err := d.Orders.Get(id)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, o)
		case http.MethodDelete:
			o, err := d.Orders.Cancel(r.Context(), id)
			if err != nil {
				status := http.StatusConflict
				if errors.Is(err, oms.ErrUnknownOrder) {
					status = http.StatusNotFound
				}
				writeError(w, status, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, o)
		default:
			writeError(w, http.StatusMethodNotAllowed, "GET or DELETE")
		}
	})

	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, d.Portfolio.GetPositions())
	})

	mux.HandleFunc("/api/v1/pnl", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		prices := make(map[string]decimal.Decimal)
		for _, pos := range d.Portfolio.GetPositions() {
			prices[pos.Symbol] = pos.LastPx
		}
		writeJSON(w, http.StatusOK, d.Orders.PnLSummary(prices))
	})

	mux.HandleFunc("/api/v1/risk", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if d.Risk == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{})
			return
		}
		writeJSON(w, http.StatusOK, d.Risk.GetStatus())
	})

	mux.HandleFunc("/api/v1/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		channel := r.URL.Query().Get("channel")
		fromSeq, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		toSeq, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if channel == "" || fromSeq <= 0 || toSeq < fromSeq {
			writeError(w, http.StatusBadRequest, "channel, from, to required")
			return
		}
		envelopes := d.Hub.GetReplayRange(channel, fromSeq, toSeq)
		raw := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			raw[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel":     channel,
			"current_seq": d.Hub.GetChannelSeq(channel),
			"envelopes":   raw,
		})
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade failed: %v", err)
			return
		}
		d.Hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})
}

func handlePlaceOrder(w http.ResponseWriter, r *http.Request, d Deps) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	o, err := d.Orders.Place(r.Context(), oms.PlaceRequest{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Qty,
		Kind:       req.Kind,
		TIF:        req.TIF,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	})
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if o.Status == model.StatusRejected {
		status = http.StatusOK
	}
	writeJSON(w, status, o)
}

// PublishOrderUpdate pushes an order snapshot onto the local orders channel.
// Wire it to the order manager's OnUpdate hook so every lifecycle change
// reaches WS clients, not just REST-initiated ones.
func PublishOrderUpdate(h *Hub, o model.Order) {
	if h == nil {
		return
	}
	data, err := json.Marshal(o)
	if err != nil {
		return
	}
	h.Publish(OrdersChannel, data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
