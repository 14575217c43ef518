package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/metric"

	"git.sr.ht/~kabue/hotspot-api/kernel"
)

// TracerMiddleware opens the root span for the request, tags it with a fresh
// request id and makes the AppRuntime reachable from handlers via the
// context key "art".
func TracerMiddleware(art *kernel.AppRuntime) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := art.Diagnostic.BeginTracing(c.Request.Context(), c.FullPath())
		defer span.End()

		requestId := uuid.NewString()
		span.SetAttributes(
			attribute.KeyValue("http.method", c.Request.Method),
			attribute.KeyValue("http.url", c.Request.URL.String()),
			attribute.KeyValue("http.host", c.Request.Host),
			attribute.KeyValue("http.request_id", requestId),
		)

		if art.Diagnostic.RequestCounter != nil {
			art.Diagnostic.RequestCounter.Add(ctx, 1,
				metric.WithAttributes(attribute.KeyValue("http.method", c.Request.Method)),
			)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Set("art", art)

		c.Next()
	}
}
