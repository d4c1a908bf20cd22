package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client symbol subscriptions. Empty = receive everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

// SubscribeMsg is the client → server subscription request.
type SubscribeMsg struct {
	Type    string   `json:"type"`  // "SUBSCRIBE" or "UNSUBSCRIBE"
	ReqID   string   `json:"reqId"` // client-generated request ID
	Symbols []string `json:"symbols"`
}

// ErrorResponse is the server → client error message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId"`
	Error string `json:"error"`
}

// AckResponse confirms a subscription change.
type AckResponse struct {
	Type    string   `json:"type"` // "ACK"
	ReqID   string   `json:"reqId"`
	Symbols []string `json:"symbols"`
}

func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}

		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Drain any queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var sub SubscribeMsg
		if json.Unmarshal(msg, &sub) != nil {
			continue
		}

		switch sub.Type {
		case "SUBSCRIBE":
			c.handleSubscribe(sub, true)
		case "UNSUBSCRIBE":
			c.handleSubscribe(sub, false)
		}
	}
}

// handleSubscribe adds or removes symbols from the client's filter.
func (c *Client) handleSubscribe(msg SubscribeMsg, add bool) {
	if len(msg.Symbols) == 0 {
		SendError(c, msg.ReqID, "symbols are required")
		return
	}

	c.subMu.Lock()
	for _, s := range msg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if add {
			c.subs[s] = true
		} else {
			delete(c.subs, s)
		}
	}
	active := make([]string, 0, len(c.subs))
	for s := range c.subs {
		active = append(active, s)
	}
	c.subMu.Unlock()

	log.Printf("[gateway] client subscription changed: %v", active)
	SendJSON(c, AckResponse{Type: "ACK", ReqID: msg.ReqID, Symbols: active})
}

// matchesChannel reports whether this client should receive messages on the
// given channel. Order and metrics channels are always delivered; quote
// channels honor the client's symbol filter.
func (c *Client) matchesChannel(channel string) bool {
	symbol, isQuote := parseQuoteChannel(channel)
	if !isQuote {
		return true
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		// No explicit filter: receive all quote channels
		return true
	}
	return c.subs[symbol]
}

// parseQuoteChannel extracts the symbol from a "pub:quote:SYMBOL" channel.
func parseQuoteChannel(channel string) (symbol string, ok bool) {
	const prefix = "pub:quote:"
	if !strings.HasPrefix(channel, prefix) {
		return "", false
	}
	s := channel[len(prefix):]
	if s == "" {
		return "", false
	}
	return s, true
}

// SendJSON marshals v and queues it to the client, dropping on a full buffer.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

// SendError sends an ERROR message to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{Type: "ERROR", ReqID: reqID, Error: errMsg})
}
