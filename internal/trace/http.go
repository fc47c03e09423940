package trace

import "net/http"

// Middleware continues the caller's trace from request headers, or starts a
// fresh one, before the WebSocket upgrade.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDKey),
			ParentSpanID: r.Header.Get(SpanIDKey),
			SpanID:       newSpanID(),
		}
		if tc.TraceID == "" {
			tc.TraceID = newTraceID()
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
