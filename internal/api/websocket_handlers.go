package api

import (
	"net/http"
)

// HandleWebSocket upgrades an authenticated request into a collaboration session.
// Rooms are joined with "join" frames once connected.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.ws.HandleConnection(w, r)
}
