package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/services"
)

const (
	msgRoomNotFound     = "Room not found"
	msgRoomFull         = "Room is full"
	msgMissingFields    = "Missing required fields"
	msgMissingRoomID    = "Missing room_id"
	msgMissingPollQuery = "Missing room_id or as parameter"
	msgInvalidJSON      = "Invalid JSON"
	msgPeerIDTooLong    = "Peer id too long"
	msgTooLarge         = "Payload too large"
	msgMethodNotAllowed = "Method not allowed"
	msgPostRequired     = "POST required"
	msgInternal         = "Internal server error"
)

// abortBindError answers a request whose body or query could not be bound.
// A missing body counts as missing fields.
func abortBindError(c *gin.Context, err error, missing string) {
	var (
		tooLarge *http.MaxBytesError
		invalid  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &tooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgTooLarge})
	case errors.As(err, &invalid) && failedTag(invalid, "max"):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgPeerIDTooLong})
	case errors.As(err, &invalid), errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": missing})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgInvalidJSON})
	}
}

func failedTag(errs validator.ValidationErrors, tag string) bool {
	for _, fe := range errs {
		if fe.Tag() == tag {
			return true
		}
	}
	return false
}

// abortServiceError maps service errors to statuses. Anything unexpected is
// logged with the request and answered with an opaque 500.
func abortServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": msgRoomNotFound})
	case errors.Is(err, services.ErrRoomFull):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": msgRoomFull})
	case errors.Is(err, services.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgMissingFields})
	case errors.Is(err, services.ErrNotSupported):
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	}
}

// MethodNotAllowed is installed as the router's NoMethod handler.
func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethodNotAllowed})
}

func NotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
}
