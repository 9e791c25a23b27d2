// Package testhelpers provides common utilities shared by the relay and
// server tests: dialing websockets with an allowed origin, reading JSON
// frames with deadlines, and asserting HTTP response properties.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is an origin allowed by the default configuration.
const TestOrigin = "http://localhost"

// ReadTimeout bounds every read performed by these helpers.
const ReadTimeout = 2 * time.Second

// WebSocketURL converts an httptest server URL into a websocket URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// DialWebSocket connects to url with TestOrigin and fails the test on error.
// The connection is closed when the test ends.
func DialWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, resp, err := DialWithOrigin(url, TestOrigin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err, "dial %s", url)

	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithOrigin connects to url sending origin (omitted when empty). The
// handshake response is returned so callers can inspect refusals.
func DialWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	return dialer.Dial(url, headers)
}

// ReadJSON reads one text frame and decodes it into a map.
func ReadJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err, "read frame")
	require.Equal(t, websocket.TextMessage, messageType)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), "decode %s", data)
	return out
}

// ReadN reads n JSON frames.
func ReadN(t *testing.T, conn *websocket.Conn, n int) []map[string]any {
	t.Helper()

	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ReadJSON(t, conn))
	}
	return out
}

// ExpectNoMessage asserts nothing arrives within timeout. A timed-out
// gorilla connection cannot be read again, so call this last.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

// ExpectClosed asserts the server closes the connection within timeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}

// SendJSON writes v as one JSON text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// SendRaw writes data as one text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// Emit writes a grouped-transport event frame.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any, room string) {
	t.Helper()

	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	if room != "" {
		frame["room"] = room
	}
	SendJSON(t, conn, frame)
}

// CloseWebSocket performs a clean close handshake.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds or two seconds pass.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msgAndArgs...)
}

// MakeRequest executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string, headers map[string]string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON decodes an HTTP response body into a map.
func DecodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// AssertStatusCode checks the response status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks the response Content-Type header prefix.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
