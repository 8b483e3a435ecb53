package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/internal/push"
	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

// RegisterPush handles POST /api/users/:user_id/push/register. It makes
// sure the vendor forwards the user's notifications to this service.
func (h *Handler) RegisterPush(c *gin.Context) {
	if h.push == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push backbone is disabled"})
		return
	}
	userID := c.Param("user_id")

	_, err := h.push.EnsureForwardingToken(c.Request.Context(), userID)
	var regErr *push.RegistrationError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"registered": true})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, push.ErrNoDeviceIdentity):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device identity not registered yet"})
	case errors.As(err, &regErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": regErr.Error()})
	default:
		log.Error().Str("user", userID).Err(err).Msg("push registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push registration failed"})
	}
}

// RotateDeviceIdentity handles POST /api/push/rotate. It registers a new
// device identity; forwarding tokens are re-minted on their next register
// call and the listen stream moves to the new identity.
func (h *Handler) RotateDeviceIdentity(c *gin.Context) {
	if h.push == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push backbone is disabled"})
		return
	}

	identity, err := h.push.RotateDeviceIdentity(c.Request.Context())
	var regErr *push.RegistrationError
	switch {
	case err == nil:
		log.Info().Msg("device identity rotated")
		c.JSON(http.StatusOK, gin.H{"fingerprint": push.Fingerprint(identity)})
	case errors.As(err, &regErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": regErr.Error()})
	default:
		log.Error().Err(err).Msg("device identity rotation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device identity rotation failed"})
	}
}
