package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

type serverResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// ListServers handles GET /api/servers. Servers that have not been picked
// up by a reconciliation pass yet report state "Pending".
func (h *Handler) ListServers(c *gin.Context) {
	records, err := h.store.ListServers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list servers"})
		return
	}

	userID := c.Query("user_id")
	out := make([]serverResponse, 0, len(records))
	for _, rec := range records {
		if userID != "" && rec.UserID != userID {
			continue
		}
		resp := serverResponse{
			ID:      rec.ID,
			UserID:  rec.UserID,
			Name:    rec.Name,
			Address: rec.Address(),
			State:   "Pending",
		}
		if h.sessions != nil {
			if st, ok := h.sessions.Get(rec.ID); ok {
				resp.State = st.State.String()
				resp.Failures = st.Failures
				resp.LastError = st.LastError
			}
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// GetServerInfo handles GET /api/servers/:server_id/info.
func (h *Handler) GetServerInfo(c *gin.Context) {
	info, err := h.store.GetServerInfo(c.Request.Context(), c.Param("server_id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metadata for server"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load server info"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetSessions handles GET /api/sessions, the raw registry snapshot.
func (h *Handler) GetSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions are not available"})
		return
	}
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}
