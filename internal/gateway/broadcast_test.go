package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

// collectingClient registers a client and returns its send channel for
// asserting on broadcast output.
func collectingClient(h *Hub, symbols ...string) chan []byte {
	c := &Client{
		send: make(chan []byte, 64),
		hub:  h,
		subs: make(map[string]bool),
	}
	for _, s := range symbols {
		c.subs[s] = true
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c.send
}

func TestBroadcast_EnvelopeFormat(t *testing.T) {
	h := NewHub(nil, []string{"ACME"})
	recv := collectingClient(h)

	data := []byte(`{"symbol":"ACME","price":"101.5","size":100,"quote_ts":"2026-08-28T14:30:00Z"}`)
	h.Broadcaster.Broadcast("pub:quote:ACME", data)

	select {
	case buf := <-recv:
		var env envelope
		if err := json.Unmarshal(buf, &env); err != nil {
			t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
		}
		if env.Channel != "pub:quote:ACME" {
			t.Errorf("channel = %q", env.Channel)
		}
		if env.Seq != 1 || env.ChannelSeq != 1 {
			t.Errorf("seq = %d, channel_seq = %d, want 1/1", env.Seq, env.ChannelSeq)
		}
		if _, err := time.Parse(time.RFC3339Nano, env.TS); err != nil {
			t.Errorf("ts is not RFC3339Nano: %v", err)
		}
		var quote map[string]interface{}
		if err := json.Unmarshal(env.Data, &quote); err != nil {
			t.Fatalf("data is not valid JSON: %v", err)
		}
		if quote["symbol"] != "ACME" {
			t.Errorf("data symbol = %v", quote["symbol"])
		}
	default:
		t.Fatal("client received nothing")
	}
}

func TestBroadcast_PerChannelSeq(t *testing.T) {
	h := NewHub(nil, []string{"ACME", "GLOBEX"})
	recv := collectingClient(h)

	for i := 0; i < 3; i++ {
		h.Broadcaster.Broadcast("pub:quote:ACME", []byte(`{}`))
	}
	for i := 0; i < 2; i++ {
		h.Broadcaster.Broadcast("pub:quote:GLOBEX", []byte(`{}`))
	}

	var lastACME, lastGLOBEX, lastGlobal int64
	for i := 0; i < 5; i++ {
		var env envelope
		if err := json.Unmarshal(<-recv, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Seq <= lastGlobal {
			t.Errorf("global seq not monotonic: %d after %d", env.Seq, lastGlobal)
		}
		lastGlobal = env.Seq
		switch env.Channel {
		case "pub:quote:ACME":
			lastACME = env.ChannelSeq
		case "pub:quote:GLOBEX":
			lastGLOBEX = env.ChannelSeq
		}
	}
	if lastACME != 3 || lastGLOBEX != 2 {
		t.Errorf("channel seqs = ACME:%d GLOBEX:%d, want 3/2", lastACME, lastGLOBEX)
	}
	if got := h.GetChannelSeq("pub:quote:ACME"); got != 3 {
		t.Errorf("GetChannelSeq = %d, want 3", got)
	}
}

func TestBroadcast_SymbolFilter(t *testing.T) {
	h := NewHub(nil, []string{"ACME", "GLOBEX"})
	acmeOnly := collectingClient(h, "ACME")

	h.Broadcaster.Broadcast("pub:quote:GLOBEX", []byte(`{}`))
	select {
	case buf := <-acmeOnly:
		t.Fatalf("filtered client received %s", buf)
	default:
	}

	h.Broadcaster.Broadcast("pub:quote:ACME", []byte(`{}`))
	if len(acmeOnly) != 1 {
		t.Error("client should receive its subscribed symbol")
	}

	// Order updates bypass symbol filters.
	h.Broadcaster.Broadcast(OrdersChannel, []byte(`{"status":"FILLED"}`))
	if len(acmeOnly) != 2 {
		t.Error("order updates should reach every client")
	}
}

func TestBroadcast_ReplayBackfill(t *testing.T) {
	h := NewHub(nil, []string{"ACME"})

	for i := 1; i <= 10; i++ {
		h.Broadcaster.Broadcast("pub:quote:ACME", []byte(`{}`))
	}

	envelopes := h.GetReplayRange("pub:quote:ACME", 3, 7)
	if len(envelopes) != 5 {
		t.Fatalf("replay range returned %d envelopes, want 5", len(envelopes))
	}
	var env envelope
	if err := json.Unmarshal(envelopes[0], &env); err != nil {
		t.Fatalf("bad replay envelope: %v", err)
	}
	if env.ChannelSeq != 3 {
		t.Errorf("first replayed channel_seq = %d, want 3", env.ChannelSeq)
	}
}

func TestParseQuoteChannel(t *testing.T) {
	tests := []struct {
		channel string
		symbol  string
		ok      bool
	}{
		{"pub:quote:ACME", "ACME", true},
		{"pub:quote:BRK.B", "BRK.B", true},
		{"pub:quote:", "", false},
		{"orders", "", false},
		{"pub:bar:ACME", "", false},
	}
	for _, tt := range tests {
		symbol, ok := parseQuoteChannel(tt.channel)
		if symbol != tt.symbol || ok != tt.ok {
			t.Errorf("parseQuoteChannel(%q) = (%q, %v), want (%q, %v)",
				tt.channel, symbol, ok, tt.symbol, tt.ok)
		}
	}
}
