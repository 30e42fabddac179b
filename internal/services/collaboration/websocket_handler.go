package collaboration

import (
	"context"
	"log"
	"net/http"

	"codoc/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// WebSocketHandler upgrades authenticated requests into collaboration sessions.
type WebSocketHandler struct {
	sessionManager *SessionManager
	upgrader       websocket.Upgrader
}

// NewWebSocketHandler creates a handler. An empty origin list accepts any origin.
func NewWebSocketHandler(sessionManager *SessionManager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// HandleConnection upgrades the request. The user ID must already be in the
// request context (see middleware.Authenticate); rooms are joined over the socket.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.sessionManager.NewSession(conn, userID)
	h.sessionManager.Register(session)

	// The request context ends when this handler returns; the session outlives it.
	sessionCtx := context.WithoutCancel(ctx)

	go session.WritePump()
	go session.ReadPump(sessionCtx)

	log.Printf("✓ WebSocket connection established (session: %s, user: %s)", session.ID, userID)
}
