// Package reporter builds the configuration report served at /api: a fixed
// description of the deployment stack plus a few facts about the running
// process.
package reporter

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed stack.yaml
var stackYAML []byte

// Greeting is the fixed message accompanying every report.
const Greeting = "Hello from Go API!"

// TimestampLayout formats the runtime timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Database describes the database service of the stack.
type Database struct {
	Type    string `yaml:"type" json:"type"`
	Version string `yaml:"version" json:"version"`
	Name    string `yaml:"name" json:"name"`
	User    string `yaml:"user" json:"user"`
}

// Document is the static part of the report.
type Document struct {
	Type           string            `yaml:"type" json:"type"`
	Backend        string            `yaml:"backend" json:"backend"`
	BackendVersion string            `yaml:"backend_version" json:"backend_version"`
	Webserver      string            `yaml:"webserver" json:"webserver"`
	Database       Database          `yaml:"database" json:"database"`
	Services       map[string]string `yaml:"services" json:"services"`
}

// Runtime holds facts gathered when the report is built.
type Runtime struct {
	GoVersion string `json:"go_version"`
	Server    string `json:"server"`
	Timestamp string `json:"timestamp"`
}

// Config is the document with the runtime facts attached.
type Config struct {
	Document
	Runtime Runtime `json:"runtime"`
}

// Report is the body of a GET /api response.
type Report struct {
	Message string `json:"message"`
	Config  Config `json:"config"`
}

// Reporter produces reports. It is safe for concurrent use.
type Reporter struct {
	doc      Document
	hostname func() (string, error)
	now      func() time.Time
}

// New parses the embedded stack document.
func New() (*Reporter, error) {
	doc, err := Parse(stackYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded stack document: %w", err)
	}
	return NewWithDocument(doc), nil
}

// NewWithDocument builds a reporter around doc.
func NewWithDocument(doc Document) *Reporter {
	return &Reporter{
		doc:      doc,
		hostname: os.Hostname,
		now:      time.Now,
	}
}

// Parse decodes a stack document, rejecting unknown keys.
func Parse(data []byte) (Document, error) {
	var doc Document

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("parse stack document: %w", err)
	}

	if doc.Type == "" {
		return Document{}, errors.New("parse stack document: type is required")
	}
	return doc, nil
}

// Document returns the static part of the report.
func (r *Reporter) Document() Document { return r.doc }

// Report builds a fresh report.
func (r *Reporter) Report() Report {
	server, err := r.hostname()
	if err != nil || server == "" {
		server = "Unknown"
	}

	return Report{
		Message: Greeting,
		Config: Config{
			Document: r.doc,
			Runtime: Runtime{
				GoVersion: runtime.Version(),
				Server:    server,
				Timestamp: r.now().Format(TimestampLayout),
			},
		},
	}
}
