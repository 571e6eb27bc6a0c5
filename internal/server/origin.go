package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins canonicalizes the configured allow list. A bare "*" entry
// disables the origin check entirely; malformed entries are logged and
// skipped rather than silently allowed.
func normalizeOrigins(origins []string) ([]string, bool) {
	var (
		normalized []string
		allowAll   bool
	)
	for _, raw := range origins {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
		case entry == "*":
			allowAll = true
		default:
			canonical, ok := canonicalOrigin(entry)
			if !ok {
				log.Printf("Ignoring invalid origin in configuration: %q", raw)
				continue
			}
			normalized = append(normalized, canonical)
		}
	}
	return normalized, allowAll
}

// canonicalOrigin reduces an origin to lowercase scheme://host so header
// values and configured entries compare byte for byte.
func canonicalOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin gates WebSocket upgrades on the Origin header. A request with
// no Origin header, an unparseable one, or one outside the allow list is
// refused.
func checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	canonical, ok := canonicalOrigin(header)
	if ok {
		configMu.RLock()
		allowed := allowAllOrigins
		if !allowed {
			_, allowed = allowedOrigins[canonical]
		}
		configMu.RUnlock()
		if allowed {
			return true
		}
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", header)
	return false
}
