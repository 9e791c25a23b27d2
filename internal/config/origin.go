package config

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginList is a normalised set of origins allowed to open websocket
// connections and receive CORS headers.
type OriginList struct {
	allowed  map[string]struct{}
	allowAll bool
	// Ignored holds configured entries that could not be parsed as origins.
	Ignored []string
}

// NewOriginList normalises origins into an allow-list. "*" allows any origin.
func NewOriginList(origins []string) *OriginList {
	list := &OriginList{allowed: make(map[string]struct{}, len(origins))}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			list.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			list.Ignored = append(list.Ignored, origin)
			continue
		}

		list.allowed[normalized] = struct{}{}
	}

	return list
}

// Allows reports whether origin is on the list.
func (l *OriginList) Allows(origin string) bool {
	if l == nil || origin == "" {
		return false
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if l.allowAll {
		return true
	}

	_, exists := l.allowed[normalized]
	return exists
}

// AllowsRequest reports whether the request's Origin header is on the list.
// Requests without an Origin header are refused.
func (l *OriginList) AllowsRequest(r *http.Request) bool {
	return l.Allows(r.Header.Get("Origin"))
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}
