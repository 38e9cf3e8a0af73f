package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/perpwatch/engine/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// FillEvent is a parsed fill notification for one address, handed to
// the engine as a trigger to re-fetch authoritative position state.
type FillEvent struct {
	Address    string
	Fills      []model.Fill
	ReceivedAt time.Time
}

// command is an outbound control frame.
type command struct {
	Method       string       `json:"method"` // "subscribe" or "unsubscribe"
	Subscription subscription `json:"subscription"`
}

// subscription identifies one per-address fill stream.
type subscription struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// fillChannel is the inbound channel name carrying fill events.
const fillChannel = "userFills"

// inboundMessage is the envelope of every inbound frame.
type inboundMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// fillsData is the payload of a fill-event notification.
type fillsData struct {
	User       string    `json:"user"`
	IsSnapshot bool      `json:"isSnapshot"` // initial state replay, ignored
	Fills      []rawFill `json:"fills"`
}

// rawFill carries the venue's string-encoded numeric fill fields.
type rawFill struct {
	Coin string `json:"coin"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Time int64  `json:"time"` // milliseconds since epoch
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// SubState is the subscription lifecycle state for one address.
type SubState int

const (
	Unsubscribed SubState = iota
	Subscribing
	Subscribed
	Unsubscribing
)

func (s SubState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Unsubscribing:
		return "unsubscribing"
	default:
		return "unsubscribed"
	}
}

// ManagerConfig configures the subscription manager.
type ManagerConfig struct {
	WSURL          string
	BatchSize      int           // Addresses per control-frame batch
	BatchDelay     time.Duration // Fixed delay between batches
	ReconnectDelay time.Duration // Fixed wait before reconnect attempts
	WriteTimeout   time.Duration
	PingTimeout    time.Duration
	BufferSize     int // Fill event channel buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BatchSize:      10,
		BatchDelay:     100 * time.Millisecond,
		ReconnectDelay: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingTimeout:    60 * time.Second,
		BufferSize:     1000,
	}
}
