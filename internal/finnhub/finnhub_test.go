package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecode_ValidBatch(t *testing.T) {
	frame := `{"type":"trade","data":[
		{"s":"AAPL","p":189.5,"t":1700000000000,"v":10},
		{"s":"AAPL","p":"190.25","t":"1700000000500"}
	]}`
	msg, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != "trade" {
		t.Errorf("type = %q", msg.Type)
	}
	ticks := msg.Ticks()
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}
	if ticks[0].Symbol != "AAPL" || ticks[0].Price != 189.5 || ticks[0].Timestamp != 1700000000000 || ticks[0].Volume != 10 {
		t.Errorf("tick 0 = %+v", ticks[0])
	}
	if ticks[1].Price != 190.25 || ticks[1].Timestamp != 1700000000500 {
		t.Errorf("numeric strings not coerced: %+v", ticks[1])
	}
}

func TestDecode_FrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{"type":`, ErrMalformed},
		{"array root", `[1,2,3]`, ErrMalformed},
		{"ping", `{"type":"ping"}`, ErrNoData},
		{"data not array", `{"type":"trade","data":{"s":"AAPL"}}`, ErrNoData},
		{"server error", `{"type":"error","msg":"Invalid token"}`, ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%s) error = %v, want %v", tt.frame, err, tt.want)
			}
		})
	}
}

func TestDecode_ElementErrors(t *testing.T) {
	frame := `{"type":"trade","data":[
		{"p":1,"t":1},
		{"s":"","p":1,"t":1},
		{"s":"AAPL","p":"abc","t":1},
		{"s":"AAPL","p":null,"t":1},
		{"s":"AAPL","p":1,"t":true},
		{"s":"AAPL","p":"NaN","t":1},
		42,
		{"s":"AAPL","p":101,"t":5}
	]}`
	msg, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []error{
		ErrMissingSymbol, ErrMissingSymbol, ErrBadPrice, ErrBadPrice,
		ErrBadTimestamp, ErrBadPrice, ErrMissingSymbol, nil,
	}
	if len(msg.Elements) != len(want) {
		t.Fatalf("got %d elements, want %d", len(msg.Elements), len(want))
	}
	for i, w := range want {
		e := msg.Elements[i]
		if e.Index != i {
			t.Errorf("element %d has index %d", i, e.Index)
		}
		if w == nil {
			if !e.OK() {
				t.Errorf("element %d: unexpected error %v", i, e.Err)
			}
			continue
		}
		if !errors.Is(e.Err, w) {
			t.Errorf("element %d: error = %v, want %v", i, e.Err, w)
		}
	}
	if ticks := msg.Ticks(); len(ticks) != 1 || ticks[0].Price != 101 {
		t.Errorf("valid ticks = %+v", ticks)
	}
}

func TestDecode_TimestampOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		ts   string
	}{
		{"huge", `1e30`},
		{"huge string", `"1e30"`},
		{"very negative", `-1e30`},
		{"just past int64", `9.3e18`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := `{"type":"trade","data":[{"s":"AAPL","p":1,"t":` + tt.ts + `}]}`
			msg, err := Decode([]byte(frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(msg.Elements) != 1 || !errors.Is(msg.Elements[0].Err, ErrBadTimestamp) {
				t.Errorf("elements = %+v, want ErrBadTimestamp", msg.Elements)
			}
		})
	}
}

func TestControlMessages(t *testing.T) {
	if m := SubscribeMessage("AAPL"); m.Type != "subscribe" || m.Symbol != "AAPL" {
		t.Errorf("SubscribeMessage = %+v", m)
	}
	if m := UnsubscribeMessage("AAPL"); m.Type != "unsubscribe" {
		t.Errorf("UnsubscribeMessage = %+v", m)
	}
}

func TestDialer_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotToken := make(chan string, 1)
	gotSub := make(chan ControlMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub ControlMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		gotSub <- sub
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":150,"t":1000}]}`))
		// Wait for the client to hang up.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewDialer(wsURL).Dial(ctx, "secret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if tok := <-gotToken; tok != "secret" {
		t.Errorf("token = %q, want secret", tok)
	}
	if err := conn.WriteJSON(SubscribeMessage("AAPL")); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	select {
	case sub := <-gotSub:
		if sub.Type != "subscribe" || sub.Symbol != "AAPL" {
			t.Errorf("server got %+v", sub)
		}
	case <-ctx.Done():
		t.Fatal("server never received subscribe")
	}

	data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ticks := msg.Ticks(); len(ticks) != 1 || ticks[0].Price != 150 {
		t.Errorf("ticks = %+v", ticks)
	}
}

func TestDialer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDialer("ws://127.0.0.1:1").Dial(ctx, "x"); err == nil {
		t.Error("expected dial error")
	}
}
