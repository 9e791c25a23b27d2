package server

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/devrelay/internal/relay"
)

//go:embed testpage.html
var testPageHTML string

var testPage = template.Must(template.New("test").Parse(testPageHTML))

// Info is the service description served at GET /.
type Info struct {
	Service   string    `json:"service"`
	Mode      string    `json:"type"`
	Port      int       `json:"port"`
	Endpoints Endpoints `json:"endpoints"`
}

// Endpoints lists where each service surface is mounted.
type Endpoints struct {
	Health    string `json:"health"`
	WebSocket string `json:"websocket"`
	Config    string `json:"config"`
	Test      string `json:"test"`
}

// handleHealth reports relay health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.HealthInfo())
}

// handleRoot hands websocket upgrades to a root-mounted relay and answers
// everything else with the service description.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if s.relay.Path() == "/" && websocket.IsWebSocketUpgrade(r) {
		s.relay.ServeHTTP(w, r)
		return
	}

	writeJSON(w, http.StatusOK, Info{
		Service: "WebSocket Server",
		Mode:    string(s.relay.Mode()),
		Port:    s.cfg.Port,
		Endpoints: Endpoints{
			Health:    "/health",
			WebSocket: websocketURL(r, s.relay.Path()),
			Config:    "/api",
			Test:      "/test",
		},
	})
}

// handleConfig serves the config report.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Report())
}

// handleTestPage serves a browser client for the active transport.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := struct {
		Mode    string
		Path    string
		Grouped bool
	}{
		Mode:    string(s.relay.Mode()),
		Path:    s.relay.Path(),
		Grouped: s.relay.Mode() == relay.ModeGrouped,
	}

	if err := testPage.Execute(w, data); err != nil {
		s.logger.Error("render test page", "error", err)
	}
}

func websocketURL(r *http.Request, path string) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + path
}
