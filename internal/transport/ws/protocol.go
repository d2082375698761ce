// Package ws implements the persistent-connection ingress of the relay
// over WebSocket, along with the event protocol shared with speakers.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Event names.
const (
	EventSpeak   = "speak"
	EventSuccess = "success"
	EventError   = "error"
)

// Reply messages sent to senders.
const (
	MessageSent        = "Text sent for speech"
	MessageEmptyText   = "Empty text"
	MessageNoSpeaker   = "No PC client connected"
	MessageInternalErr = "Internal server error"
)

// Query parameters of the connection URL.
const (
	QueryKey  = "key"
	QueryType = "type"
)

// ErrMalformedEnvelope is returned for frames that are not a valid envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SpeakPayload is the data of a speak event.
type SpeakPayload struct {
	Text string `json:"text"`
}

// ReplyPayload is the data of success and error events.
type ReplyPayload struct {
	Message string `json:"message"`
}

// EncodeEnvelope marshals an event and its data into a frame.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// DecodeEnvelope unmarshals a frame. An envelope without an event name is
// rejected.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}
	return &env, nil
}

// RateLimitMessage is the error reply for a sender that exceeded its rate
// limit of one window.
func RateLimitMessage(window time.Duration) string {
	seconds := int(math.Ceil(window.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	unit := "seconds"
	if seconds == 1 {
		unit = "second"
	}
	return fmt.Sprintf("Rate limit exceeded. Please wait %d %s.", seconds, unit)
}
