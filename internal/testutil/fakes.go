// Package testutil provides in-memory fakes for the stream transport and notification sink.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/pricewatch/internal/finnhub"
)

// ErrConnClosed is returned by reads on a locally closed FakeConn.
var ErrConnClosed = errors.New("fake conn closed")

// FakeConn is a scripted connection. Push frames with Send, end it with Drop.
type FakeConn struct {
	in      chan []byte
	done    chan struct{}
	dropped chan struct{}

	mu        sync.Mutex
	written   []json.RawMessage
	writeErr  error
	gate      chan struct{}
	blocked   int
	closeOnce sync.Once
	dropOnce  sync.Once
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		in:      make(chan []byte, 64),
		done:    make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

func (c *FakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrConnClosed
	case <-c.dropped:
		return nil, io.EOF
	case b := <-c.in:
		return b, nil
	}
}

func (c *FakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	gate := c.gate
	if gate != nil {
		c.blocked++
	}
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.written = append(c.written, b)
	return nil
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Send queues an inbound frame.
func (c *FakeConn) Send(frame string) {
	c.in <- []byte(frame)
}

// Drop simulates the remote side closing the connection.
func (c *FakeConn) Drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

// FailWrites makes every subsequent WriteJSON return err.
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// HoldWrites makes subsequent writes block until release is called,
// like a peer that stopped reading.
func (c *FakeConn) HoldWrites() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.gate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// BlockedWrites returns how many writes have waited on HoldWrites.
func (c *FakeConn) BlockedWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Closed reports whether Close was called locally.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Written returns the frames written so far.
func (c *FakeConn) Written() []finnhub.ControlMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]finnhub.ControlMessage, 0, len(c.written))
	for _, raw := range c.written {
		var m finnhub.ControlMessage
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

// FakeDialer hands out FakeConns and records every dial.
type FakeDialer struct {
	Conns chan *FakeConn

	mu     sync.Mutex
	tokens []string
	err    error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{Conns: make(chan *FakeConn, 16)}
}

func (d *FakeDialer) Dial(ctx context.Context, token string) (finnhub.Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c := NewFakeConn()
	d.Conns <- c
	return c, nil
}

// FailDials makes subsequent dials return err; nil restores success.
func (d *FakeDialer) FailDials(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Dials returns the number of dial attempts.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

// NextConn waits for the next successful dial.
func (d *FakeDialer) NextConn(t *testing.T) *FakeConn {
	t.Helper()
	select {
	case c := <-d.Conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// Delivery is one recorded notification.
type Delivery struct {
	Title string
	Body  string
}

// RecordingNotifier stores deliveries; Err makes every delivery fail after recording it.
type RecordingNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	Err        error
}

func (n *RecordingNotifier) Deliver(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, Delivery{Title: title, Body: body})
	return n.Err
}

func (n *RecordingNotifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}

// Eventually polls cond until it holds or the deadline passes.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
