package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Recovery turns handler panics into the generic 500 body, logging the stack
// and counting them as http.server.panics by route. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recovery(mp metric.MeterProvider) Middleware {
	panics, err := mp.Meter("cravekart/httpmiddleware").Int64Counter("http.server.panics",
		metric.WithDescription("Handler panics recovered by the server"),
	)
	if err != nil {
		otel.Handle(err)
	}
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
				route := RoutePattern(r)
				zctx.From(r.Context()).Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", route),
					zap.Stack("stack"),
				)
				if panics != nil {
					panics.Add(r.Context(), 1, metric.WithAttributes(attribute.String("http.route", route)))
				}
				w.Header().Set("Connection", "close")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
