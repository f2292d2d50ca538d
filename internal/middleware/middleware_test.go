package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/signal-relay/internal/ratelimit"
	"github.com/thereayou/signal-relay/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	id := w.Header().Get(RequestIDHeader)
	if len(id) != 36 || w.Body.String() != id {
		t.Fatalf("minted id=%q body=%q", id, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	if got := serve(r, req).Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("incoming id not reused: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", 200))
	if got := serve(r, req).Header().Get(RequestIDHeader); len(got) != 36 {
		t.Fatalf("oversized id kept: %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := serve(r, httptest.NewRequest(http.MethodOptions, "/x", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Fatalf("preflight=%d %q", w.Code, w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodPost, "/x", nil))
	if w.Code != http.StatusTeapot || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("post=%d headers=%v", w.Code, w.Header())
	}
}

func TestMaxBodyBytes(t *testing.T) {
	r := gin.New()
	r.Use(MaxBodyBytes(4))
	r.POST("/", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	if w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("1234"))); w.Code != http.StatusOK {
		t.Fatalf("small body=%d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345"))); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body=%d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := ratelimit.NewLimiter(ratelimit.Config{Redis: rdb, Limit: 1, Window: time.Minute})

	create := func(*gin.Context) string { return "create" }
	r := gin.New()
	r.POST("/limited", RateLimit(l, create), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/free", RateLimit(l, func(*gin.Context) string { return "" }), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodPost, "/limited", nil))
	if w.Code != http.StatusOK || w.Header().Get(RateLimitRemainingHeader) != "0" {
		t.Fatalf("first=%d remaining=%q", w.Code, w.Header().Get(RateLimitRemainingHeader))
	}
	w = serve(r, httptest.NewRequest(http.MethodPost, "/limited", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get(RateLimitRemainingHeader) != "0" {
		t.Fatalf("second=%d remaining=%q", w.Code, w.Header().Get(RateLimitRemainingHeader))
	}
	for i := 0; i < 3; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/free", nil))
		if w.Code != http.StatusOK || w.Header().Get(RateLimitRemainingHeader) != "" {
			t.Fatalf("unscoped=%d remaining=%q", w.Code, w.Header().Get(RateLimitRemainingHeader))
		}
	}

	var nilLimiter *ratelimit.Limiter
	r2 := gin.New()
	r2.POST("/", RateLimit(nilLimiter, create), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		w := serve(r2, httptest.NewRequest(http.MethodPost, "/", nil))
		if w.Code != http.StatusOK || w.Header().Get(RateLimitRemainingHeader) != "" {
			t.Fatalf("nil limiter=%d remaining=%q", w.Code, w.Header().Get(RateLimitRemainingHeader))
		}
	}
}

func TestRateLimitRemainingCountsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := ratelimit.NewLimiter(ratelimit.Config{Redis: rdb, Limit: 3, Window: time.Minute})

	r := gin.New()
	r.POST("/", RateLimit(l, func(*gin.Context) string { return "create" }), func(c *gin.Context) { c.Status(http.StatusOK) })
	for _, want := range []string{"2", "1", "0"} {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/", nil))
		if got := w.Header().Get(RateLimitRemainingHeader); w.Code != http.StatusOK || got != want {
			t.Fatalf("status=%d remaining=%q, want %q", w.Code, got, want)
		}
	}
}

func TestAdminAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	jwtMgr := auth.NewJWTManager("secret", time.Hour)

	r := gin.New()
	r.GET("/", AdminAuth(jwtMgr, rdb, "relay:"), func(c *gin.Context) { c.String(http.StatusOK, c.GetString(OperatorKey)) })

	withToken := func(tok string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		return req
	}

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token=%d", w.Code)
	}
	if w := serve(r, withToken("junk")); w.Code != http.StatusUnauthorized {
		t.Fatalf("junk token=%d", w.Code)
	}

	tok, _ := jwtMgr.Generate("ops")
	w := serve(r, withToken(tok))
	if w.Code != http.StatusOK || w.Body.String() != "ops" {
		t.Fatalf("valid token=%d %q", w.Code, w.Body.String())
	}

	// a revocation under another deployment's prefix does not apply
	mr.Set(RevokedKey("", tok), "1")
	if w := serve(r, withToken(tok)); w.Code != http.StatusOK {
		t.Fatalf("foreign revocation=%d", w.Code)
	}

	mr.Set(RevokedKey("relay:", tok), "1")
	if !mr.Exists("relay:admin:revoked:" + tok) {
		t.Fatalf("revocation key not namespaced, have %v", mr.Keys())
	}
	if w := serve(r, withToken(tok)); w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token=%d", w.Code)
	}
}
