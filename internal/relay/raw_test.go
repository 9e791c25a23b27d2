package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/devrelay/internal/config"
	th "github.com/Tyrowin/devrelay/internal/testhelpers"
)

func startRaw(t *testing.T, opts Options) (*RawRelay, string) {
	t.Helper()

	r := NewRaw(opts)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
		srv.Close()
	})
	return r, th.WebSocketURL(srv.URL, r.Path())
}

func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn := th.DialWebSocket(t, url)
	welcome := th.ReadJSON(t, conn)
	require.Equal(t, "welcome", welcome["type"])
	return conn
}

func TestRawWelcome(t *testing.T) {
	_, url := startRaw(t, Options{})

	conn := th.DialWebSocket(t, url)
	welcome := th.ReadJSON(t, conn)

	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, rawGreeting, welcome["message"])
	ts, ok := welcome["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(TimestampLayout, ts)
	assert.NoError(t, err)
}

func TestRawScenarioSenderExcluded(t *testing.T) {
	r, url := startRaw(t, Options{})

	c1 := dialRaw(t, url)
	c2 := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 2 })

	th.SendRaw(t, c1, []byte(`{"text":"hi"}`))

	got := th.ReadJSON(t, c2)
	assert.Equal(t, "broadcast", got["type"])
	assert.Equal(t, map[string]any{"text": "hi"}, got["message"])
	assert.NotEmpty(t, got["from"])

	th.ExpectNoMessage(t, c1, 200*time.Millisecond)
}

func TestRawEchoAllIncludesSender(t *testing.T) {
	r, url := startRaw(t, Options{Echo: EchoAll})

	c1 := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 1 })

	th.SendRaw(t, c1, []byte(`[1,2,3]`))

	got := th.ReadJSON(t, c1)
	assert.Equal(t, "broadcast", got["type"])
	assert.Equal(t, []any{1.0, 2.0, 3.0}, got["message"])
}

func TestRawInvalidPayloadIsDropped(t *testing.T) {
	r, url := startRaw(t, Options{Echo: EchoAll})

	c1 := dialRaw(t, url)
	c2 := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 2 })

	th.SendRaw(t, c1, []byte(`definitely not json`))
	th.SendRaw(t, c1, []byte(`{"after":"bad"}`))

	// The follow-up message proves c1 stayed connected and nothing was
	// emitted for the bad payload.
	for _, c := range []*websocket.Conn{c1, c2} {
		got := th.ReadJSON(t, c)
		assert.Equal(t, map[string]any{"after": "bad"}, got["message"])
	}
	assert.Equal(t, 2, r.Len())
}

func TestRawDisconnectUnregisters(t *testing.T) {
	r, url := startRaw(t, Options{})

	c1 := dialRaw(t, url)
	c2 := dialRaw(t, url)
	c3 := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 3 })

	require.NoError(t, th.CloseWebSocket(c2))
	th.Eventually(t, func() bool { return r.Len() == 2 })

	th.SendRaw(t, c1, []byte(`"after c2 left"`))
	got := th.ReadJSON(t, c3)
	assert.Equal(t, "after c2 left", got["message"])
	assert.Equal(t, "OK", r.HealthInfo().Status)
}

func TestRawManyClients(t *testing.T) {
	r, url := startRaw(t, Options{})

	const n = 5
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = dialRaw(t, url)
	}
	th.Eventually(t, func() bool { return r.Len() == n })

	for i, c := range conns {
		th.SendRaw(t, c, []byte(fmt.Sprintf(`{"from_client":%d}`, i)))
	}

	for i, c := range conns {
		seen := map[float64]bool{}
		for _, frame := range th.ReadN(t, c, n-1) {
			msg, ok := frame["message"].(map[string]any)
			require.True(t, ok)
			seen[msg["from_client"].(float64)] = true
		}
		assert.Len(t, seen, n-1)
		assert.False(t, seen[float64(i)], "client %d received its own message", i)
	}
}

func TestRawOversizeMessageClosesOnlySender(t *testing.T) {
	r, url := startRaw(t, Options{MaxMessageSize: 64})

	big := dialRaw(t, url)
	other := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 2 })

	payload := fmt.Sprintf(`{"pad":%q}`, strings.Repeat("x", 128))
	th.SendRaw(t, big, []byte(payload))

	th.ExpectClosed(t, big, 2*time.Second)
	th.Eventually(t, func() bool { return r.Len() == 1 })
	th.ExpectNoMessage(t, other, 100*time.Millisecond)
}

func TestRawRateLimitDropsExcess(t *testing.T) {
	r, url := startRaw(t, Options{
		RateLimit: config.RateLimitConfig{Burst: 2, RefillInterval: time.Hour},
	})

	sender := dialRaw(t, url)
	receiver := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 2 })

	for i := 0; i < 4; i++ {
		th.SendRaw(t, sender, []byte(fmt.Sprintf(`%d`, i)))
	}

	frames := th.ReadN(t, receiver, 2)
	assert.Equal(t, 0.0, frames[0]["message"])
	assert.Equal(t, 1.0, frames[1]["message"])
	th.ExpectNoMessage(t, receiver, 200*time.Millisecond)
}

func TestRawRejectsDisallowedOrigin(t *testing.T) {
	r, url := startRaw(t, Options{})

	conn, resp, err := th.DialWithOrigin(url, "http://evil.test")
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, r.Len())
}

func TestRawRejectsNonGet(t *testing.T) {
	r := NewRaw(Options{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := th.MakeRequest(t, http.MethodPost, srv.URL, nil)
	th.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestRawShutdownClosesClients(t *testing.T) {
	r, url := startRaw(t, Options{})

	c1 := dialRaw(t, url)
	th.Eventually(t, func() bool { return r.Len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	th.ExpectClosed(t, c1, 2*time.Second)
	assert.Zero(t, r.Len())

	_, resp, err := th.DialWithOrigin(url, th.TestOrigin)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
