package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/logger"
)

// MetricsSecretHeader is the header alternative to ?secret= and Bearer auth.
const MetricsSecretHeader = "X-Metrics-Secret"

// MetricsGate restricts the metrics endpoints in production. Outside
// production every request passes. In production the shared secret must
// arrive as ?secret=, X-Metrics-Secret or "Authorization: Bearer"; one
// matching channel is enough. Anything else gets a bare 403. An unset
// secret forbids everything.
func MetricsGate(cfg *config.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cfg.Get()
			if c == nil || !c.IsProduction() {
				next.ServeHTTP(w, r)
				return
			}

			if !anySecretMatches(c.Metrics.Secret, presentedSecrets(r)) {
				logger.From(r.Context()).Debug("metrics access denied")
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// presentedSecrets collects every non-empty credential: query, header, bearer.
// A stale value on one channel does not hide a valid one on another.
func presentedSecrets(r *http.Request) []string {
	var out []string
	if s := r.URL.Query().Get("secret"); s != "" {
		out = append(out, s)
	}
	if s := r.Header.Get(MetricsSecretHeader); s != "" {
		out = append(out, s)
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		if s := strings.TrimSpace(parts[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func anySecretMatches(expected string, presented []string) bool {
	if expected == "" {
		return false
	}
	ok := false
	for _, p := range presented {
		// No early exit: every channel is compared.
		if subtle.ConstantTimeCompare([]byte(expected), []byte(p)) == 1 {
			ok = true
		}
	}
	return ok
}
