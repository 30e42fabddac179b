package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"codoc/internal/middleware"
	"codoc/internal/models"
	"codoc/internal/services"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests
type Handler struct {
	docs     DocumentRepository
	users    UserLookup
	auth     AuthService
	presence PresenceSource
	ws       ConnectionHandler
}

func NewHandler(
	docs DocumentRepository,
	users UserLookup,
	auth AuthService,
	presence PresenceSource,
	ws ConnectionHandler,
) *Handler {
	return &Handler{
		docs:     docs,
		users:    users,
		auth:     auth,
		presence: presence,
		ws:       ws,
	}
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if doc.Kind == "" {
		doc.Kind = models.KindDoc
	}
	if !doc.Kind.Valid() {
		http.Error(w, "kind must be doc or code", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = "Untitled"
	}
	if len(doc.Content) > 0 && !json.Valid(doc.Content) {
		http.Error(w, "value must be valid JSON", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r.Context())
	created, err := h.docs.Create(r.Context(), userID, &doc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.NewDocumentView(created, models.RoleOwner))
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	// Parse pagination parameters
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 50 // default
	offset := 0

	if limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	kind := models.DocumentKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		http.Error(w, "kind must be doc or code", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r.Context())
	documents, err := h.docs.ListForUser(r.Context(), userID, kind, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]*models.DocumentView, 0, len(documents))
	for _, doc := range documents {
		views = append(views, models.NewDocumentView(doc, services.RoleFor(doc, userID)))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": views,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetDocument returns the latest snapshot. Clients fetch it before joining a room.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, role, ok := h.authorize(w, r, models.Role.CanRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, models.NewDocumentView(doc, role))
}

type documentSave struct {
	Value    json.RawMessage `json:"value,omitempty"`
	Title    *string         `json:"title,omitempty"`
	Language *string         `json:"language,omitempty"`
}

// SaveDocument is the explicit save. Omitted fields keep their stored value.
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	var save documentSave
	if err := json.NewDecoder(r.Body).Decode(&save); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(save.Value) > 0 && !json.Valid(save.Value) {
		http.Error(w, "value must be valid JSON", http.StatusBadRequest)
		return
	}

	doc, role, ok := h.authorize(w, r, models.Role.CanWrite)
	if !ok {
		return
	}

	snap := doc.Snapshot()
	if len(save.Value) > 0 {
		snap.Content = save.Value
	}
	if save.Title != nil {
		snap.Title = *save.Title
	}
	if save.Language != nil {
		snap.Language = *save.Language
	}

	if err := h.docs.Write(r.Context(), doc.ID, *snap); err != nil {
		writeError(w, r, err)
		return
	}

	doc.Content = string(snap.Content)
	doc.Title = snap.Title
	doc.Language = snap.Language
	writeJSON(w, http.StatusOK, models.NewDocumentView(doc, role))
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := h.authorize(w, r, func(role models.Role) bool { return role == models.RoleOwner })
	if !ok {
		return
	}

	if err := h.docs.Delete(r.Context(), doc.ID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Presence

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := h.authorize(w, r, models.Role.CanRead)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documentId": doc.ID,
		"sessions":   len(h.presence.Members(doc.ID)),
	})
}

// authorize loads the {id} document and checks the caller's role with allowed.
// It writes the error response itself and reports whether the handler may continue.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, allowed func(models.Role) bool) (*models.Document, models.Role, bool) {
	id := mux.Vars(r)["id"]

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, models.RoleForbidden, false
	}

	role := services.RoleFor(doc, middleware.UserID(r.Context()))
	if !allowed(role) {
		writeError(w, r, models.ErrForbidden)
		return nil, role, false
	}
	return doc, role, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

// writeError maps sentinel errors to status codes; anything else is a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrDocumentNotFound), errors.Is(err, models.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrReadOnly):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, models.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		middleware.AddSpanError(r.Context(), err)
		log.Printf("⚠️  %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), status)
}
