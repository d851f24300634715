package handlers

import (
	"net/http"
)

// SessionCounter は稼働中のセッション数を返します。
type SessionCounter interface {
	Count() int
}

// PublicHandler handles public API endpoints
type PublicHandler struct {
	sessions SessionCounter
}

// NewPublicHandler creates a new instance of PublicHandler
func NewPublicHandler(sessions SessionCounter) *PublicHandler {
	return &PublicHandler{sessions: sessions}
}

// Health はサーバーの死活と稼働中のセッション数を返します。
// GET /api/public/health
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.sessions.Count(),
	})
}
