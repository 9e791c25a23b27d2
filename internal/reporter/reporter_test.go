package reporter

import (
	"encoding/json"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesEmbeddedDocument(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	doc := r.Document()
	assert.Equal(t, "api", doc.Type)
	assert.Equal(t, "go", doc.Backend)
	assert.Equal(t, "mysql", doc.Database.Type)
	assert.Equal(t, "socketio", doc.Services["websocket_type"])
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("type: api\nfrontend: react\n"))
	assert.Error(t, err)
}

func TestParseRequiresType(t *testing.T) {
	_, err := Parse([]byte("backend: go\n"))
	assert.ErrorContains(t, err, "type is required")
}

func TestReport(t *testing.T) {
	r := NewWithDocument(Document{Type: "api", Backend: "go"})
	r.hostname = func() (string, error) { return "relay-1", nil }
	r.now = func() time.Time { return time.Date(2026, 10, 15, 9, 5, 1, 0, time.UTC) }

	rep := r.Report()

	assert.Equal(t, Greeting, rep.Message)
	assert.Equal(t, "api", rep.Config.Type)
	assert.Equal(t, Runtime{
		GoVersion: runtime.Version(),
		Server:    "relay-1",
		Timestamp: "2026-10-15 09:05:01",
	}, rep.Config.Runtime)
}

func TestReportUnknownHost(t *testing.T) {
	r := NewWithDocument(Document{Type: "api"})
	r.hostname = func() (string, error) { return "", errors.New("no hostname") }

	assert.Equal(t, "Unknown", r.Report().Config.Runtime.Server)
}

func TestReportJSONShape(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	raw, err := json.Marshal(r.Report())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, Greeting, out["message"])
	cfg, ok := out["config"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"type", "backend", "backend_version", "webserver", "database", "services", "runtime"} {
		assert.Contains(t, cfg, key)
	}
	rt, ok := cfg["runtime"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, rt, "go_version")
	assert.Contains(t, rt, "server")
	assert.Contains(t, rt, "timestamp")
}
