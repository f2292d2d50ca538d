package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/pkg/auth"
)

const (
	OperatorKey = "operator"

	revokedPrefix = "admin:revoked:"
)

// RevokedKey is where a revoked operator token is parked until it expires.
// keyPrefix is the deployment's Redis key prefix.
func RevokedKey(keyPrefix, token string) string {
	return keyPrefix + revokedPrefix + token
}

// AdminAuth checks the bearer token of operator requests. rdb is optional;
// when set, tokens listed under RevokedKey are refused.
func AdminAuth(jwtManager *auth.JWTManager, rdb *redis.Client, keyPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		if rdb != nil {
			exists, err := rdb.Exists(c.Request.Context(), RevokedKey(keyPrefix, token)).Result()
			if err != nil {
				zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("token revocation check failed")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token could not be checked"})
				return
			}
			if exists > 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is revoked"})
				return
			}
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(OperatorKey, claims.Subject)
		c.Next()
	}
}
