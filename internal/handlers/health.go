package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/store"
)

const readinessTimeout = 2 * time.Second

type HealthHandler struct {
	pinger store.Pinger
}

// NewHealthHandler takes the configured store; stores that cannot be pinged
// are always reported ready.
func NewHealthHandler(s store.Store) *HealthHandler {
	p, _ := s.(store.Pinger)
	return &HealthHandler{pinger: p}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *HealthHandler) Readyz(c *gin.Context) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("store is not reachable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
