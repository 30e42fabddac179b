package collaboration

import (
	"context"
	"log"
	"sync"
	"time"

	"codoc/internal/models"

	"github.com/gorilla/websocket"
)

// AccessResolver is the access gate consulted before a session joins a room.
type AccessResolver interface {
	ResolveAccess(ctx context.Context, userID, documentID string) (models.Role, error)
}

// SnapshotStore is the document store as seen by the collaboration core.
type SnapshotStore interface {
	SnapshotWriter
	Read(ctx context.Context, documentID string) (*models.DocumentSnapshot, error)
}

type ManagerConfig struct {
	DebounceWindow  time.Duration
	StoreTimeout    time.Duration
	SendBuffer      int
	IdleTimeout     time.Duration
	ReapInterval    time.Duration
	FlushOnShutdown bool
	PublishBuffer   int
}

func (c *ManagerConfig) withDefaults() ManagerConfig {
	out := *c
	if out.DebounceWindow <= 0 {
		out.DebounceWindow = 3 * time.Second
	}
	if out.SendBuffer <= 0 {
		out.SendBuffer = 256
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 5 * time.Minute
	}
	if out.ReapInterval <= 0 {
		out.ReapInterval = 30 * time.Second
	}
	if out.PublishBuffer <= 0 {
		out.PublishBuffer = 1024
	}
	return out
}

// SessionManager owns every live session of this process. All registry mutations,
// relays and per-room session state changes run on a single event loop goroutine;
// connection goroutines and timers talk to it through commands.
type SessionManager struct {
	cfg       ManagerConfig
	gate      AccessResolver
	store     SnapshotStore
	registry  *Registry
	router    *Router
	bridge    *PersistenceBridge
	backplane Backplane

	// Owned by the loop
	sessions map[string]*Session

	commands chan command
	outbound chan models.EditEvent
	done     chan struct{}
	stopped  chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewSessionManager wires the registry, router and persistence bridge together.
// backplane may be nil for a single-process deployment.
func NewSessionManager(cfg ManagerConfig, gate AccessResolver, store SnapshotStore, backplane Backplane) *SessionManager {
	m := &SessionManager{
		cfg:       cfg.withDefaults(),
		gate:      gate,
		store:     store,
		registry:  NewRegistry(),
		backplane: backplane,
		sessions:  make(map[string]*Session),
		commands:  make(chan command, 256),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	m.router = NewRouter(m.registry, m)
	m.bridge = NewPersistenceBridge(store, m.cfg.DebounceWindow, m.cfg.StoreTimeout, m.onFlushed)
	if backplane != nil {
		m.outbound = make(chan models.EditEvent, m.cfg.PublishBuffer)
	}
	return m
}

// Registry exposes room membership for read-only inspection.
func (m *SessionManager) Registry() *Registry {
	return m.registry
}

// Bridge exposes the persistence bridge for inspection.
func (m *SessionManager) Bridge() *PersistenceBridge {
	return m.bridge
}

// Start begins the event loop, the idle reaper and, if configured, the backplane pumps.
func (m *SessionManager) Start() {
	m.startOnce.Do(func() {
		log.Println("🔄 Starting collaboration session manager...")

		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel

		go m.loop()

		m.wg.Add(1)
		go m.reapLoop()

		if m.backplane != nil {
			m.wg.Add(2)
			go m.publishLoop(ctx)
			go m.subscribeLoop(ctx)
		}

		log.Println("✓ Collaboration session manager started")
	})
}

// Commands processed by the loop

type command interface{}

type registerCmd struct{ session *Session }

type joinCmd struct {
	session    *Session
	documentID string
	role       models.Role
	snapshot   *models.DocumentSnapshot
}

type leaveCmd struct {
	session    *Session
	documentID string
}

type editCmd struct {
	session *Session
	event   models.EditEvent
}

type remoteEditCmd struct{ event models.EditEvent }

type disconnectCmd struct{ session *Session }

type noticeCmd struct {
	session *Session
	frame   []byte
}

type flushedCmd struct {
	key ContextKey
	err error
}

type reapCmd struct{ now time.Time }

type inspectCmd struct {
	fn   func()
	done chan struct{}
}

func (m *SessionManager) loop() {
	defer close(m.stopped)

	for {
		select {
		case <-m.done:
			return
		case cmd := <-m.commands:
			m.handle(cmd)
		}
	}
}

func (m *SessionManager) handle(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		m.sessions[c.session.ID] = c.session
	case joinCmd:
		m.handleJoin(c)
	case leaveCmd:
		m.handleLeave(c.session, c.documentID)
	case editCmd:
		m.handleEdit(c.session, c.event)
	case remoteEditCmd:
		m.handleRemoteEdit(c.event)
	case disconnectCmd:
		m.handleDisconnect(c.session)
	case noticeCmd:
		if m.live(c.session) {
			m.send(c.session, c.frame)
		}
	case flushedCmd:
		m.handleFlushed(c.key, c.err)
	case reapCmd:
		m.handleReap(c.now)
	case inspectCmd:
		c.fn()
		close(c.done)
	default:
		log.Printf("⚠️  Unknown session manager command %T", cmd)
	}
}

// submit queues a command for the loop. It gives up once the manager shuts down.
func (m *SessionManager) submit(cmd command) bool {
	select {
	case m.commands <- cmd:
		return true
	case <-m.done:
		return false
	}
}

// inspect runs fn on the loop and waits for it.
func (m *SessionManager) inspect(fn func()) bool {
	done := make(chan struct{})
	if !m.submit(inspectCmd{fn: fn, done: done}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-m.done:
		return false
	}
}

// Register adds a freshly connected session. It holds no rooms yet.
func (m *SessionManager) Register(session *Session) {
	m.submit(registerCmd{session: session})
}

func (m *SessionManager) live(s *Session) bool {
	return m.sessions[s.ID] == s
}

// Deliver implements Deliverer for the router. Loop only.
func (m *SessionManager) Deliver(sessionID string, frame []byte) bool {
	s := m.sessions[sessionID]
	if s == nil {
		return false
	}
	return m.send(s, frame)
}

func (m *SessionManager) send(s *Session, frame []byte) bool {
	select {
	case s.Send <- frame:
		return true
	default:
		return false
	}
}

func (m *SessionManager) handleJoin(c joinCmd) {
	s := c.session
	if !m.live(s) {
		// Disconnected while the gate was being consulted
		return
	}

	added := m.registry.Join(s.ID, c.documentID)
	s.rooms[c.documentID] = &roomState{role: c.role, view: c.snapshot.Clone()}
	s.setState(models.StateJoined)

	frame, err := EncodeFrame(EventJoined, c.documentID, JoinedPayload{Role: c.role, Snapshot: c.snapshot})
	if err == nil {
		m.send(s, frame)
	}

	log.Printf("  Session %s (%s) joined document %s as %s (total: %d users)",
		s.ID, s.UserID, c.documentID, c.role, len(m.registry.MembersOf(c.documentID)))

	if added {
		m.announce(s, c.documentID, EventUserJoined)
	}
}

func (m *SessionManager) handleLeave(s *Session, documentID string) {
	if !m.live(s) {
		return
	}
	if _, ok := s.rooms[documentID]; !ok {
		return
	}

	m.registry.Leave(s.ID, documentID)
	m.bridge.Cancel(ContextKey{SessionID: s.ID, DocumentID: documentID})
	delete(s.rooms, documentID)
	if len(s.rooms) == 0 {
		s.setState(models.StateConnected)
	}

	log.Printf("  Session %s left document %s (remaining: %d users)",
		s.ID, documentID, len(m.registry.MembersOf(documentID)))
	m.announce(s, documentID, EventUserLeft)
}

func (m *SessionManager) handleEdit(s *Session, event models.EditEvent) {
	if !m.live(s) {
		return
	}

	room := s.rooms[event.DocumentID]
	if room == nil {
		m.send(s, errorFrame(event.DocumentID, CodeNotJoined, "join the document before editing it"))
		return
	}
	if !room.role.CanWrite() {
		m.send(s, errorFrame(event.DocumentID, CodeReadOnly, models.ErrReadOnly.Error()))
		return
	}
	if err := event.Kind.Apply(&room.view, event.Payload); err != nil {
		m.send(s, errorFrame(event.DocumentID, CodeBadRequest, err.Error()))
		return
	}

	failed, err := m.router.Relay(s.ID, event.DocumentID, event.Kind, event.Payload)
	if err != nil {
		m.send(s, errorFrame(event.DocumentID, CodeBadRequest, err.Error()))
		return
	}
	m.applyToMembers(s.ID, event)
	m.dropSlow(failed)

	m.bridge.RecordLocalChange(ContextKey{SessionID: s.ID, DocumentID: event.DocumentID}, room.view)

	if m.outbound != nil {
		select {
		case m.outbound <- event:
		default:
			log.Printf("⚠️  Backplane queue full, event %s for document %s not published", event.Kind, event.DocumentID)
		}
	}
}

func (m *SessionManager) handleRemoteEdit(event models.EditEvent) {
	failed, err := m.router.Relay("", event.DocumentID, event.Kind, event.Payload)
	if err != nil {
		log.Printf("⚠️  Dropping remote %s for document %s: %v", event.Kind, event.DocumentID, err)
		return
	}
	m.applyToMembers("", event)
	m.dropSlow(failed)
}

// applyToMembers overwrites the local view of every receiving member so that a
// later flush from any of them carries the last value it saw.
func (m *SessionManager) applyToMembers(originSessionID string, event models.EditEvent) {
	for _, sessionID := range m.registry.MembersOf(event.DocumentID) {
		if sessionID == originSessionID {
			continue
		}
		s := m.sessions[sessionID]
		if s == nil {
			continue
		}
		if room := s.rooms[event.DocumentID]; room != nil {
			_ = event.Kind.Apply(&room.view, event.Payload)
		}
	}
}

// dropSlow disconnects members whose outbound queue was full.
func (m *SessionManager) dropSlow(sessionIDs []string) {
	for _, sessionID := range sessionIDs {
		if s := m.sessions[sessionID]; s != nil {
			log.Printf("⚠️  Session %s buffer full, closing connection", sessionID)
			m.handleDisconnect(s)
		}
	}
}

func (m *SessionManager) handleDisconnect(s *Session) {
	if !m.live(s) {
		return
	}

	left := m.registry.LeaveAll(s.ID)
	dropped := m.bridge.CancelSession(s.ID)
	delete(m.sessions, s.ID)
	s.rooms = nil
	s.setState(models.StateDisconnected)
	close(s.Send)

	log.Printf("  Session %s (%s) disconnected (rooms: %d, unsaved changes dropped: %d)",
		s.ID, s.UserID, len(left), dropped)

	for _, documentID := range left {
		m.announce(s, documentID, EventUserLeft)
	}
}

func (m *SessionManager) announce(s *Session, documentID, event string) {
	frame, err := EncodeFrame(event, documentID, PresencePayload{UserID: s.UserID})
	if err != nil {
		return
	}
	m.dropSlow(m.router.Fanout(s.ID, documentID, frame))
}

// onFlushed runs on timer goroutines; the notice itself is sent by the loop.
func (m *SessionManager) onFlushed(key ContextKey, err error) {
	m.submit(flushedCmd{key: key, err: err})
}

func (m *SessionManager) handleFlushed(key ContextKey, err error) {
	s := m.sessions[key.SessionID]
	if s == nil {
		return
	}
	if _, joined := s.rooms[key.DocumentID]; !joined {
		return
	}

	var frame []byte
	if err != nil {
		frame, _ = EncodeFrame(EventSaveFailed, key.DocumentID, SaveFailedPayload{Message: err.Error()})
	} else {
		frame, _ = EncodeFrame(EventSaved, key.DocumentID, nil)
	}
	m.send(s, frame)
}

func (m *SessionManager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.submit(reapCmd{now: now})
		}
	}
}

// handleReap closes connections that joined nothing and stayed quiet; their read
// pumps then disconnect normally. Room members are kept alive by pongs and the
// read deadline, since a viewer may only ever receive.
func (m *SessionManager) handleReap(now time.Time) {
	for _, s := range m.sessions {
		if len(s.rooms) > 0 {
			continue
		}
		if now.Sub(s.LastActive()) > m.cfg.IdleTimeout {
			log.Printf("  Closing idle session %s", s.ID)
			s.Conn.Close()
		}
	}
}

func (m *SessionManager) publishLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.outbound:
			if err := m.backplane.Publish(ctx, event); err != nil {
				log.Printf("⚠️  Backplane publish failed: %v", err)
			}
		}
	}
}

func (m *SessionManager) subscribeLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		err := m.backplane.Subscribe(ctx, func(event models.EditEvent) {
			m.submit(remoteEditCmd{event: event})
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("⚠️  Backplane subscription ended: %v (retrying)", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Members returns the sessions in a document's room.
func (m *SessionManager) Members(documentID string) []string {
	return m.registry.MembersOf(documentID)
}

// RoleOf returns the role a session holds in a room, as stored at join.
func (m *SessionManager) RoleOf(sessionID, documentID string) (models.Role, bool) {
	var (
		role models.Role
		ok   bool
	)
	m.inspect(func() {
		if s := m.sessions[sessionID]; s != nil {
			if room := s.rooms[documentID]; room != nil {
				role, ok = room.role, true
			}
		}
	})
	return role, ok
}

// View returns a session's local view of a document.
func (m *SessionManager) View(sessionID, documentID string) (models.DocumentSnapshot, bool) {
	var (
		view models.DocumentSnapshot
		ok   bool
	)
	m.inspect(func() {
		if s := m.sessions[sessionID]; s != nil {
			if room := s.rooms[documentID]; room != nil {
				view, ok = room.view.Clone(), true
			}
		}
	})
	return view, ok
}

// SessionCount returns the number of live sessions.
func (m *SessionManager) SessionCount() int {
	n := 0
	m.inspect(func() { n = len(m.sessions) })
	return n
}

// Shutdown stops the loop, closes every connection and settles pending writes.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		log.Println("🛑 Shutting down session manager...")

		close(m.done)
		if m.cancel != nil {
			m.cancel()
			<-m.stopped
		}
		m.wg.Wait()

		// The loop has exited, so the session map is ours now.
		for _, s := range m.sessions {
			s.setState(models.StateDisconnected)
			close(s.Send)
			s.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			s.Conn.Close()
		}
		m.sessions = make(map[string]*Session)

		m.bridge.Shutdown(ctx, m.cfg.FlushOnShutdown)

		if m.backplane != nil {
			if err := m.backplane.Close(); err != nil {
				log.Printf("⚠️  Failed to close backplane: %v", err)
			}
		}

		log.Println("✓ Session manager shutdown complete")
	})
}

