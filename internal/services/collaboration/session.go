package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"codoc/internal/middleware"
	"codoc/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 4 << 20
)

// Session is one live websocket connection and the rooms it has joined.
type Session struct {
	*models.Session
	Conn *websocket.Conn
	Send chan []byte // Outbound frames; closed by the manager on disconnect

	manager    *SessionManager
	state      atomic.Int32
	lastActive atomic.Int64

	// Owned by the manager loop
	rooms map[string]*roomState
}

// roomState is what a session holds per joined document: the role resolved at
// join time and its local view of the document.
type roomState struct {
	role models.Role
	view models.DocumentSnapshot
}

// NewSession creates a session for an authenticated user on an upgraded connection.
func (m *SessionManager) NewSession(conn *websocket.Conn, userID string) *Session {
	s := &Session{
		Session: models.NewSession(userID),
		Conn:    conn,
		Send:    make(chan []byte, m.cfg.SendBuffer),
		manager: m,
		rooms:   make(map[string]*roomState),
	}
	s.setState(models.StateConnected)
	s.touch()
	return s
}

func (s *Session) State() models.SessionState {
	return models.SessionState(s.state.Load())
}

func (s *Session) setState(state models.SessionState) {
	s.state.Store(int32(state))
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive is the time of the last frame or pong received.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// notify queues a frame for this session through the manager loop.
func (s *Session) notify(frame []byte) {
	s.manager.submit(noticeCmd{session: s, frame: frame})
}

// ReadPump reads frames until the connection drops, then disconnects the session.
// Frames are handled one at a time, which keeps each sender's edits in order.
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.manager.submit(disconnectCmd{session: s})
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		s.touch()
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.ProcessFrame",
			attribute.String("session.id", s.ID),
			attribute.Int("message.size", len(message)),
		)
		s.handleFrame(msgCtx, message)
		span.End()
	}
}

func (s *Session) handleFrame(ctx context.Context, message []byte) {
	frame, err := DecodeFrame(message)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		s.notify(errorFrame("", CodeBadRequest, err.Error()))
		return
	}
	middleware.AddSpanEvent(ctx, frame.Event, attribute.String("document.id", frame.DocumentID))

	if frame.DocumentID == "" {
		s.notify(errorFrame("", CodeBadRequest, "documentId is required"))
		return
	}

	switch frame.Event {
	case EventJoin:
		s.join(ctx, frame.DocumentID)
	case EventLeave:
		s.manager.submit(leaveCmd{session: s, documentID: frame.DocumentID})
	default:
		kind, err := models.ParseEventKind(frame.Event)
		if err != nil {
			s.notify(errorFrame(frame.DocumentID, CodeBadRequest, err.Error()))
			return
		}
		s.manager.submit(editCmd{session: s, event: models.EditEvent{
			DocumentID: frame.DocumentID,
			Kind:       kind,
			Payload:    frame.Payload,
		}})
	}
}

// join consults the access gate and loads the snapshot on this goroutine, so a
// slow store never holds up the manager loop, then hands the result to the loop.
func (s *Session) join(ctx context.Context, documentID string) {
	ctx, span := middleware.StartSpan(ctx, "Session.Join",
		attribute.String("session.id", s.ID),
		attribute.String("user.id", s.UserID),
		attribute.String("document.id", documentID),
	)
	defer span.End()

	if s.State() == models.StateConnected {
		s.setState(models.StateJoining)
	}

	role, snapshot, err := s.manager.admit(ctx, s.UserID, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		if len(s.joinedRooms()) == 0 {
			s.setState(models.StateConnected)
		}
		s.notify(errorFrame(documentID, joinErrorCode(err), err.Error()))
		return
	}

	s.manager.submit(joinCmd{session: s, documentID: documentID, role: role, snapshot: snapshot})
}

// joinedRooms is only an approximation off the loop; used for the state hint.
func (s *Session) joinedRooms() []string {
	return s.manager.registry.RoomsOf(s.ID)
}

// admit resolves the caller's role and reads the snapshot it will start from.
func (m *SessionManager) admit(ctx context.Context, userID, documentID string) (models.Role, *models.DocumentSnapshot, error) {
	if m.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StoreTimeout)
		defer cancel()
	}

	role, err := m.gate.ResolveAccess(ctx, userID, documentID)
	if err != nil {
		return models.RoleForbidden, nil, err
	}
	if !role.CanRead() {
		return role, nil, fmt.Errorf("%w: %s", models.ErrForbidden, documentID)
	}

	snapshot, err := m.store.Read(ctx, documentID)
	if err != nil {
		return role, nil, err
	}
	return role, snapshot, nil
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		return CodeNotFound
	case errors.Is(err, models.ErrForbidden):
		return CodeAccessDenied
	default:
		return CodeUnavailable
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per websocket message; clients parse each as JSON.
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
