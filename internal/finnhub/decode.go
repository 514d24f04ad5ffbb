package finnhub

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rewired-gh/pricewatch/internal/models"
)

var (
	// ErrMalformed means the frame is not a JSON object.
	ErrMalformed = errors.New("malformed message")
	// ErrNoData means the frame carries no data array (pings, acks, unknown shapes).
	ErrNoData = errors.New("message has no data array")
	// ErrServer wraps an error frame sent by the feed.
	ErrServer = errors.New("feed error")

	ErrMissingSymbol = errors.New("missing symbol")
	ErrBadPrice      = errors.New("price is not numeric")
	ErrBadTimestamp  = errors.New("timestamp is not numeric")
)

// Element is one entry of a trade batch: either a valid Tick or a decode failure.
type Element struct {
	Index int
	Tick  models.Tick
	Err   error
}

// OK reports whether the element decoded into a usable tick.
func (e Element) OK() bool { return e.Err == nil }

// Message is a decoded inbound frame.
type Message struct {
	Type     string
	Elements []Element
}

// Ticks returns the valid ticks in batch order.
func (m Message) Ticks() []models.Tick {
	out := make([]models.Tick, 0, len(m.Elements))
	for _, e := range m.Elements {
		if e.OK() {
			out = append(out, e.Tick)
		}
	}
	return out
}

// Decode parses a frame of shape {"type": ..., "data": [{"s","p","t","v"}]}.
//
// Frame level problems are returned as errors. Element level problems are
// reported per element so one bad entry never discards the rest of the batch.
// Numeric fields accept JSON numbers or numeric strings; anything else,
// including NaN and infinities, is rejected.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, ErrMalformed
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, ErrMalformed
	}

	msg := Message{Type: root.Get("type").String()}
	if msg.Type == "error" {
		return msg, fmt.Errorf("%w: %s", ErrServer, root.Get("msg").String())
	}

	arr := root.Get("data")
	if !arr.IsArray() {
		return msg, ErrNoData
	}

	for i, item := range arr.Array() {
		msg.Elements = append(msg.Elements, decodeElement(i, item))
	}
	return msg, nil
}

func decodeElement(i int, item gjson.Result) Element {
	e := Element{Index: i}
	if !item.IsObject() {
		e.Err = fmt.Errorf("element %d: %w", i, ErrMissingSymbol)
		return e
	}

	sym := item.Get("s")
	if sym.Type != gjson.String || strings.TrimSpace(sym.Str) == "" {
		e.Err = fmt.Errorf("element %d: %w", i, ErrMissingSymbol)
		return e
	}
	price, ok := coerceFloat(item.Get("p"))
	if !ok {
		e.Err = fmt.Errorf("element %d: %w: %s", i, ErrBadPrice, item.Get("p").Raw)
		return e
	}
	ts, ok := coerceFloat(item.Get("t"))
	if !ok || ts >= math.MaxInt64 || ts < math.MinInt64 {
		e.Err = fmt.Errorf("element %d: %w: %s", i, ErrBadTimestamp, item.Get("t").Raw)
		return e
	}
	vol, _ := coerceFloat(item.Get("v"))

	e.Tick = models.Tick{
		Symbol:    sym.Str,
		Price:     price,
		Timestamp: int64(ts),
		Volume:    vol,
	}
	return e
}

func coerceFloat(r gjson.Result) (float64, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
