// Package finnhub provides the websocket transport and frame decoding for the Finnhub trade stream.
package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultURL = "wss://ws.finnhub.io"

// Conn is a duplex stream connection.
type Conn interface {
	// ReadMessage blocks until the next frame or an error; errors end the connection.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// ControlMessage is the outbound subscribe/unsubscribe frame.
type ControlMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func SubscribeMessage(symbol string) ControlMessage {
	return ControlMessage{Type: "subscribe", Symbol: symbol}
}

func UnsubscribeMessage(symbol string) ControlMessage {
	return ControlMessage{Type: "unsubscribe", Symbol: symbol}
}

// Dialer opens websocket connections to the feed.
type Dialer struct {
	wsURL  string
	dialer websocket.Dialer
}

// NewDialer creates a dialer for wsURL; an empty URL uses DefaultURL.
func NewDialer(wsURL string) *Dialer {
	if wsURL == "" {
		wsURL = DefaultURL
	}
	return &Dialer{
		wsURL: wsURL,
		dialer: websocket.Dialer{
			Proxy:             websocket.DefaultDialer.Proxy,
			EnableCompression: true,
		},
	}
}

// Dial connects with the access token in the query string.
// Cancelling ctx aborts a dial in progress.
func (d *Dialer) Dial(ctx context.Context, token string) (Conn, error) {
	u, err := url.Parse(d.wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteJSON serializes writers; gorilla allows one concurrent writer.
func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
