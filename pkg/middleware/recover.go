package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/logger"
)

// Recoverer turns a handler panic into the 500 error envelope. The panic
// value and stack are only exposed outside production.
func Recoverer(cfg *config.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.From(r.Context()).Error("handler panicked",
					zap.Any("panic", rec),
					zap.ByteString("stack", stack),
				)

				var details any
				if c := cfg.Get(); c == nil || !c.IsProduction() {
					details = fmt.Sprintf("%v\n%s", rec, stack)
				}
				respondError(w, http.StatusInternalServerError, "Internal server error", details)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
