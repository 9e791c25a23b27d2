package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	local := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2026, 10, 15, 14, 0, 0, 5_000_000, local)

	assert.Equal(t, "2026-10-15T12:00:00.005Z", FormatTimestamp(ts))
}

func TestEncodeRaw(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{
			name: "welcome",
			env:  Envelope{Kind: KindWelcome, Greeting: "hello", Timestamp: fixedNow},
			want: `{"type":"welcome","message":"hello","timestamp":"2026-10-15T12:30:45.123Z"}`,
		},
		{
			name: "broadcast keeps payload verbatim",
			env: Envelope{
				Kind:      KindBroadcast,
				Payload:   json.RawMessage(`{"text":"hi","n":[1,2]}`),
				SenderID:  "c1",
				Timestamp: fixedNow,
			},
			want: `{"type":"broadcast","message":{"text":"hi","n":[1,2]},"from":"c1","timestamp":"2026-10-15T12:30:45.123Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRaw(tt.env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeGrouped(t *testing.T) {
	got, err := EncodeGrouped(Envelope{
		Kind:      KindBroadcast,
		Payload:   json.RawMessage(`"hi"`),
		SenderID:  "c1",
		Room:      "lobby",
		Timestamp: fixedNow,
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"broadcast","room":"lobby","data":{"from":"c1","message":"hi","timestamp":"2026-10-15T12:30:45.123Z"}}`,
		string(got))

	got, err = EncodeGrouped(Envelope{Kind: KindWelcome, Greeting: "hello", Timestamp: fixedNow})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"welcome","data":{"message":"hello","timestamp":"2026-10-15T12:30:45.123Z"}}`,
		string(got))
}
