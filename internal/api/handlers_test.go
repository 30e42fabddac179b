package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"codoc/internal/models"
	"codoc/internal/services"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	seq  int
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[string]*models.Document)}
}

func (m *memDocs) Create(_ context.Context, ownerID string, doc *models.DocumentCreate) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	content := doc.Content
	if len(content) == 0 {
		content = models.EmptyContent()
	}
	d := &models.Document{
		ID:       fmt.Sprintf("doc%d", m.seq),
		Kind:     doc.Kind,
		Title:    doc.Title,
		Content:  string(content),
		Language: doc.Language,
		OwnerID:  ownerID,
		Editors:  pq.StringArray{ownerID},
		Private:  doc.Private,
	}
	m.docs[d.ID] = d
	return d, nil
}

func (m *memDocs) GetByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	cp := *d
	cp.Editors = append(pq.StringArray(nil), d.Editors...)
	return &cp, nil
}

func (m *memDocs) ListForUser(_ context.Context, userID string, kind models.DocumentKind, limit, offset int) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Document
	for i := 1; i <= m.seq; i++ {
		d, ok := m.docs[fmt.Sprintf("doc%d", i)]
		if !ok || (kind != "" && d.Kind != kind) {
			continue
		}
		if d.OwnerID == userID || d.HasEditor(userID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDocs) Write(_ context.Context, id string, snap models.DocumentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	d.Content = string(snap.Content)
	d.Title = snap.Title
	d.Language = snap.Language
	return nil
}

func (m *memDocs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return models.ErrDocumentNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocs) AddEditor(_ context.Context, id, editor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	if !d.HasEditor(editor) {
		d.Editors = append(d.Editors, editor)
	}
	return nil
}

func (m *memDocs) RemoveEditor(_ context.Context, id, editor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	kept := pq.StringArray{}
	for _, e := range d.Editors {
		if e != editor {
			kept = append(kept, e)
		}
	}
	d.Editors = kept
	return nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *memUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return models.ErrUsernameTaken
	}
	m.users[user.Username] = user
	return nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return u, nil
}

type fixedPresence map[string][]string

func (p fixedPresence) Members(documentID string) []string { return p[documentID] }

type noopWS struct{ called bool }

func (n *noopWS) HandleConnection(w http.ResponseWriter, r *http.Request) {
	n.called = true
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type apiEnv struct {
	t       *testing.T
	docs    *memDocs
	handler http.Handler
	tokens  map[string]string
	ws      *noopWS
}

func newAPIEnv(t *testing.T) *apiEnv {
	docs := newMemDocs()
	users := &memUsers{users: make(map[string]*models.User)}
	auth := services.NewAuthService(users, "test-secret", time.Hour)
	ws := &noopWS{}

	h := NewHandler(docs, users, auth, fixedPresence{"doc1": {"s1", "s2"}}, ws)
	env := &apiEnv{
		t:       t,
		docs:    docs,
		handler: SetupRoutes(h, auth, nil),
		tokens:  make(map[string]string),
		ws:      ws,
	}

	for _, name := range []string{"alice", "bob", "carol"} {
		rec := env.do(http.MethodPost, "/signup", "", models.Credentials{Username: name, Password: "pw-" + name})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp models.AuthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		env.tokens[name] = resp.Token
	}
	return env
}

func (e *apiEnv) do(method, path, user string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) create(user string, doc models.DocumentCreate) *models.DocumentView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/documents", user, doc)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	var view struct {
		ID   string      `json:"id"`
		Role models.Role `json:"role"`
	}
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &view))
	d, err := e.docs.GetByID(context.Background(), view.ID)
	require.NoError(e.t, err)
	return models.NewDocumentView(d, view.Role)
}

func TestSignupAndLogin(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(http.MethodPost, "/signup", "", models.Credentials{Username: "alice", Password: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/signup", "", models.Credentials{Username: "", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/login", "", models.Credentials{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/login", "", models.Credentials{Username: "alice", Password: "pw-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Username)
	assert.NotEmpty(t, resp.Token)
}

func TestDocumentsRequireToken(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/documents", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/health", "", nil).Code)
}

func TestCreateAndGetDocument(t *testing.T) {
	env := newAPIEnv(t)

	view := env.create("alice", models.DocumentCreate{Kind: models.KindCode, Title: "main.go", Language: "go"})
	assert.Equal(t, models.RoleOwner, view.Role)

	rec := env.do(http.MethodGet, "/api/documents/"+view.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "main.go", got["title"])
	assert.Equal(t, "owner", got["role"])
	assert.Equal(t, "code", got["kind"])

	// Public documents are readable by anyone signed in.
	rec = env.do(http.MethodGet, "/api/documents/"+view.ID, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "read-only", got["role"])

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/documents/missing", "alice", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/documents", "alice", models.DocumentCreate{Kind: "sheet"}).Code)
}

func TestPrivateDocumentIsForbidden(t *testing.T) {
	env := newAPIEnv(t)
	view := env.create("alice", models.DocumentCreate{Title: "diary", Private: true})

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/documents/"+view.ID, "bob", nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/documents/"+view.ID+"/presence", "bob", nil).Code)
}

func TestSaveDocument(t *testing.T) {
	env := newAPIEnv(t)
	view := env.create("alice", models.DocumentCreate{Title: "notes"})

	title := "renamed"
	rec := env.do(http.MethodPut, "/api/documents/"+view.ID, "alice", map[string]interface{}{
		"title": title,
		"value": json.RawMessage(`[{"children":[{"text":"saved"}]}]`),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d, err := env.docs.GetByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", d.Title)
	assert.JSONEq(t, `[{"children":[{"text":"saved"}]}]`, d.Content)

	// Read-only callers cannot save.
	rec = env.do(http.MethodPut, "/api/documents/"+view.ID, "bob", map[string]interface{}{"title": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEditorsManagement(t *testing.T) {
	env := newAPIEnv(t)
	view := env.create("alice", models.DocumentCreate{Title: "shared"})
	path := "/api/documents/" + view.ID + "/editors"

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, path, "bob", editorRequest{Editor: "bob"}).Code)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, path, "alice", editorRequest{Editor: "bob"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, path, "alice", editorRequest{Editor: "nobody"}).Code)

	// Bob is an editor now and may share further.
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, path, "bob", editorRequest{Editor: "carol"}).Code)

	rec := env.do(http.MethodGet, path, "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Owner   string   `json:"owner"`
		Editors []string `json:"editors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "alice", list.Owner)
	assert.Equal(t, []string{"alice", "bob", "carol"}, list.Editors)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodDelete, path, "bob", editorRequest{Editor: "alice"}).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, path, "alice", editorRequest{Editor: "carol"}).Code)

	d, err := env.docs.GetByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, pq.StringArray{"alice", "bob"}, d.Editors)
}

func TestListDocumentsForUser(t *testing.T) {
	env := newAPIEnv(t)
	env.create("alice", models.DocumentCreate{Kind: models.KindDoc, Title: "a"})
	env.create("alice", models.DocumentCreate{Kind: models.KindCode, Title: "b"})
	env.create("bob", models.DocumentCreate{Kind: models.KindDoc, Title: "c"})

	rec := env.do(http.MethodGet, "/api/documents?kind=code", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Documents []map[string]interface{} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "b", out.Documents[0]["title"])

	rec = env.do(http.MethodGet, "/api/documents", "alice", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Documents, 2)
}

func TestDeleteIsOwnerOnly(t *testing.T) {
	env := newAPIEnv(t)
	view := env.create("alice", models.DocumentCreate{Title: "temp"})
	env.do(http.MethodPost, "/api/documents/"+view.ID+"/editors", "alice", editorRequest{Editor: "bob"})

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, "/api/documents/"+view.ID, "bob", nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/documents/"+view.ID, "alice", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/documents/"+view.ID, "alice", nil).Code)
}

func TestPresenceCountsSessions(t *testing.T) {
	env := newAPIEnv(t)
	env.create("alice", models.DocumentCreate{Title: "live"})

	rec := env.do(http.MethodGet, "/api/documents/doc1/presence", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documentId":"doc1","sessions":2}`, rec.Body.String())
}

func TestWebSocketRouteIsAuthenticated(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/ws", "", nil).Code)
	assert.False(t, env.ws.called)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+env.tokens["alice"], nil))
	assert.True(t, env.ws.called)
}

func TestPreflightSkipsAuth(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
