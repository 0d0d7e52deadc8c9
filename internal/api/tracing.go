package api

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const traceIDHeader = "X-Trace-Id"

// withTracing continues any trace the caller propagated and echoes the trace
// id back so a client can quote it in bug reports.
func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parent := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		route := routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(parent, r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("url.path", r.URL.Path),
		)
		if sc := span.SpanContext(); sc.HasTraceID() {
			w.Header().Set(traceIDHeader, sc.TraceID().String())
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(recorder, r)

		// path values are only populated once the mux has matched
		if sessionID := r.PathValue("session"); sessionID != "" {
			span.SetAttributes(attribute.String("optimizer.session_id", sessionID))
		}
		if itemID := r.PathValue("item"); itemID != "" {
			span.SetAttributes(attribute.String("optimizer.item_id", itemID))
		}
		span.SetAttributes(attribute.Int("http.response.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		}
	})
}
