package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/hubbridge/hubbridge-backend/api/responses"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
)

// Recoverer converts handler panics into 500 responses. Webhook
// deliveries must always get an HTTP answer or Stripe keeps retrying
// against a hung connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				err := fmt.Errorf("panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic": fmt.Sprint(rec),
						"stack": string(debug.Stack()),
					})
					logg.Error(ctx, "panic.recovered", err)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
