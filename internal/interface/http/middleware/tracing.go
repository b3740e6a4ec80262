package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xiebiao/stockledger/pkg/tracing"
)

const httpTracerName = "http.server"

// Tracing 每个请求开一个Span，下游的订单生命周期Span成为它的子Span
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracing.StartSpan(c.Request.Context(), httpTracerName, c.Request.Method+" "+route)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		var err error
		if status >= 500 && len(c.Errors) > 0 {
			err = c.Errors.Last().Err
		}
		tracing.End(span, err)
	}
}
