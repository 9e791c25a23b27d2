package relay

import (
	"encoding/json"
	"time"
)

// Kind discriminates envelopes.
type Kind string

// Envelope kinds.
const (
	KindWelcome   Kind = "welcome"
	KindBroadcast Kind = "broadcast"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Envelope is one outbound message. Welcome envelopes carry Greeting;
// broadcast envelopes carry the sender's Payload verbatim.
type Envelope struct {
	Kind      Kind
	Greeting  string
	Payload   json.RawMessage
	SenderID  string
	Room      string
	Timestamp time.Time
}

func (e Envelope) message() any {
	if e.Kind == KindWelcome {
		return e.Greeting
	}
	return e.Payload
}

// Encoder turns an envelope into a wire frame.
type Encoder func(Envelope) ([]byte, error)

type rawFrame struct {
	Type      Kind   `json:"type"`
	Message   any    `json:"message"`
	From      string `json:"from,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EncodeRaw frames an envelope the way the raw transport sends it:
// {"type":"broadcast","message":<payload>,"from":<id>,"timestamp":...}.
func EncodeRaw(e Envelope) ([]byte, error) {
	return json.Marshal(rawFrame{
		Type:      e.Kind,
		Message:   e.message(),
		From:      e.SenderID,
		Timestamp: FormatTimestamp(e.Timestamp),
	})
}

// groupedFrame is the event framing used by the grouped transport in both
// directions.
type groupedFrame struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type groupedData struct {
	From      string `json:"from,omitempty"`
	Message   any    `json:"message"`
	Timestamp string `json:"timestamp"`
}

// EncodeGrouped frames an envelope as a grouped event:
// {"event":"broadcast","room":...,"data":{"from":...,"message":...,"timestamp":...}}.
func EncodeGrouped(e Envelope) ([]byte, error) {
	return encodeEvent(string(e.Kind), e.Room, groupedData{
		From:      e.SenderID,
		Message:   e.message(),
		Timestamp: FormatTimestamp(e.Timestamp),
	})
}

func encodeEvent(event, room string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(groupedFrame{Event: event, Room: room, Data: raw})
}
