package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// originPolicy decides which browser origins may open a websocket or call
// the upload endpoints.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			p.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(origin); ok {
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

// allows reports whether a non-empty Origin header value is accepted.
func (p *originPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = p.allowed[normalized]
	return ok
}

// checkOrigin is the upgrader hook. Requests without an Origin header come
// from non-browser clients and are let through.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.origins.allows(origin) {
		return true
	}
	s.log.WithFields(logrus.Fields{"origin": origin, "addr": r.RemoteAddr}).Warn("Rejected websocket origin")
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
