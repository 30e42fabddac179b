package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codoc/internal/middleware"
	"codoc/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeGate resolves roles from a fixed table; unknown documents are not found.
type fakeGate struct {
	mu    sync.Mutex
	roles map[string]map[string]models.Role // documentID -> userID -> role
}

func newFakeGate() *fakeGate {
	return &fakeGate{roles: make(map[string]map[string]models.Role)}
}

func (g *fakeGate) set(documentID, userID string, role models.Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roles[documentID] == nil {
		g.roles[documentID] = make(map[string]models.Role)
	}
	g.roles[documentID][userID] = role
}

func (g *fakeGate) ResolveAccess(_ context.Context, userID, documentID string) (models.Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	users, ok := g.roles[documentID]
	if !ok {
		return models.RoleForbidden, models.ErrDocumentNotFound
	}
	if role, ok := users[userID]; ok {
		return role, nil
	}
	return models.RoleForbidden, nil
}

type storeWrite struct {
	documentID string
	snapshot   models.DocumentSnapshot
}

// fakeStore keeps snapshots in memory and records every write.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]models.DocumentSnapshot
	writes   []storeWrite
	writeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]models.DocumentSnapshot)}
}

func (s *fakeStore) put(documentID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = models.DocumentSnapshot{Content: models.EmptyContent(), Title: title}
}

func (s *fakeStore) failWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *fakeStore) Read(_ context.Context, documentID string) (*models.DocumentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.docs[documentID]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	out := snap.Clone()
	return &out, nil
}

func (s *fakeStore) Write(_ context.Context, documentID string, snap models.DocumentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if _, ok := s.docs[documentID]; !ok {
		return models.ErrDocumentNotFound
	}
	s.docs[documentID] = snap.Clone()
	s.writes = append(s.writes, storeWrite{documentID: documentID, snapshot: snap.Clone()})
	return nil
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeStore) lastWrite() (storeWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return storeWrite{}, false
	}
	return s.writes[len(s.writes)-1], true
}

var errStoreDown = errors.New("store down")

type testEnv struct {
	manager *SessionManager
	gate    *fakeGate
	store   *fakeStore
	server  *httptest.Server
}

// newTestEnv starts a manager behind an httptest server. The user is taken from
// the "user" query parameter in place of a token.
func newTestEnv(t *testing.T, cfg ManagerConfig) *testEnv {
	t.Helper()

	gate := newFakeGate()
	store := newFakeStore()
	return newTestEnvWith(t, NewSessionManager(cfg, gate, store, nil), gate, store)
}

func newTestEnvWith(t *testing.T, manager *SessionManager, gate *fakeGate, store *fakeStore) *testEnv {
	t.Helper()
	manager.Start()

	ws := NewWebSocketHandler(manager, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithUserID(r.Context(), r.URL.Query().Get("user"))
		ws.HandleConnection(w, r.WithContext(ctx))
	}))

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	return &testEnv{manager: manager, gate: gate, store: store, server: server}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, userID string) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(event, documentID string, payload interface{}) {
	c.t.Helper()
	frame, err := EncodeFrame(event, documentID, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *testClient) next() Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var f Frame
	require.NoError(c.t, json.Unmarshal(data, &f))
	return f
}

// await reads frames until one with the given event arrives.
func (c *testClient) await(event string) Frame {
	c.t.Helper()
	for {
		f := c.next()
		if f.Event == event {
			return f
		}
	}
}

// silent asserts nothing but the listed events arrives within d.
// The connection cannot be read afterwards.
func (c *testClient) silent(d time.Duration, allowed ...string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		require.NoError(c.t, json.Unmarshal(data, &f))
		ok := false
		for _, a := range allowed {
			if f.Event == a {
				ok = true
			}
		}
		require.True(c.t, ok, "unexpected frame %s %s", f.Event, string(f.Payload))
	}
}

func (c *testClient) join(documentID string) JoinedPayload {
	c.t.Helper()
	c.send(EventJoin, documentID, nil)
	f := c.await(EventJoined)
	require.Equal(c.t, documentID, f.DocumentID)

	var joined JoinedPayload
	require.NoError(c.t, json.Unmarshal(f.Payload, &joined))
	return joined
}

func (c *testClient) errorCode(f Frame) string {
	c.t.Helper()
	require.Equal(c.t, EventError, f.Event)
	var p ErrorPayload
	require.NoError(c.t, json.Unmarshal(f.Payload, &p))
	return p.Code
}

func stringPayload(t *testing.T, f Frame) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Payload, &s))
	return s
}
