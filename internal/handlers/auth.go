package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/signal-relay/internal/middleware"
	"github.com/thereayou/signal-relay/internal/services"
	"github.com/thereayou/signal-relay/pkg/auth"
)

// AdminHandler serves the operator endpoints behind middleware.AdminAuth.
type AdminHandler struct {
	rooms      *services.RoomService
	jwtManager *auth.JWTManager
	redis      *redis.Client
	keyPrefix  string
	backend    string
}

func NewAdminHandler(rooms *services.RoomService, jwtMgr *auth.JWTManager, rdb *redis.Client, keyPrefix, backend string) *AdminHandler {
	return &AdminHandler{rooms: rooms, jwtManager: jwtMgr, redis: rdb, keyPrefix: keyPrefix, backend: backend}
}

// Stats reports live rooms.
func (h *AdminHandler) Stats(c *gin.Context) {
	n, err := h.rooms.CountRooms(c.Request.Context())
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rooms_count":      n,
		"store":            h.backend,
		"room_ttl_seconds": int64(h.rooms.TTL().Seconds()),
	})
}

// RevokeToken parks the presented token in Redis until it would have
// expired anyway.
func (h *AdminHandler) RevokeToken(c *gin.Context) {
	if h.redis == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "token revocation needs redis"})
		return
	}

	rawToken, err := auth.ExtractTokenFromHeader(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ttl := time.Until(exp)
	if ttl <= 0 {
		c.Status(http.StatusOK)
		return
	}
	if err := h.redis.Set(c.Request.Context(), middleware.RevokedKey(h.keyPrefix, rawToken), 1, ttl).Err(); err != nil {
		abortServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
