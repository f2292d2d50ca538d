package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/ratelimit"
)

const (
	RequestIDKey    = "requestID"
	RequestIDHeader = "X-Request-ID"

	RateLimitRemainingHeader = "X-RateLimit-Remaining"

	maxRequestIDLen = 128
)

// CORS opens every route to browser clients on any origin and answers
// preflight requests itself.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+RateLimitRemainingHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// RequestID reuses a sane incoming X-Request-ID or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logger writes one access log line per request and puts a request scoped
// logger into the request context for handlers (see zerolog.Ctx).
func Logger(logger *zerolog.Logger) gin.HandlerFunc {
	base := logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()

		reqLogger := base.With().Str("requestID", c.GetString(RequestIDKey)).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = reqLogger.Error()
		case status >= http.StatusBadRequest:
			ev = reqLogger.Info()
		default:
			ev = reqLogger.Debug()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("action", c.Query("action")).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("clientIP", c.ClientIP()).
			Msg("request")
	}
}

// MaxBodyBytes caps request bodies. Reads past the cap fail with
// *http.MaxBytesError.
func MaxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// RateLimit applies l per client IP. scope names the budget a request draws
// from; requests for which scope returns "" are not limited.
func RateLimit(l *ratelimit.Limiter, scope func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := scope(c)
		if s == "" {
			c.Next()
			return
		}
		ctx, ip := c.Request.Context(), c.ClientIP()
		if err := l.Allow(ctx, s, ip); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				c.Header(RateLimitRemainingHeader, "0")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if l.Enabled() {
			if n, err := l.Remaining(ctx, s, ip); err == nil {
				c.Header(RateLimitRemainingHeader, strconv.Itoa(n))
			}
		}
		c.Next()
	}
}
