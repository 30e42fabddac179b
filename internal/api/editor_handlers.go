package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"codoc/internal/models"
)

type editorRequest struct {
	Editor string `json:"editor"`
}

func (h *Handler) ListEditors(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := h.authorize(w, r, models.Role.CanRead)
	if !ok {
		return
	}

	editors := []string(doc.Editors)
	if editors == nil {
		editors = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":   doc.OwnerID,
		"editors": editors,
	})
}

// AddEditor grants edit access. Owners and editors may share a document.
func (h *Handler) AddEditor(w http.ResponseWriter, r *http.Request) {
	editor, ok := decodeEditor(w, r)
	if !ok {
		return
	}

	doc, _, ok := h.authorize(w, r, models.Role.CanWrite)
	if !ok {
		return
	}

	if _, err := h.users.GetByUsername(r.Context(), editor); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.docs.AddEditor(r.Context(), doc.ID, editor); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveEditor revokes edit access. Sessions already in the room keep the
// role they joined with until they rejoin.
func (h *Handler) RemoveEditor(w http.ResponseWriter, r *http.Request) {
	editor, ok := decodeEditor(w, r)
	if !ok {
		return
	}

	doc, _, ok := h.authorize(w, r, models.Role.CanWrite)
	if !ok {
		return
	}

	if editor == doc.OwnerID {
		http.Error(w, "the owner cannot be removed", http.StatusBadRequest)
		return
	}

	if err := h.docs.RemoveEditor(r.Context(), doc.ID, editor); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeEditor(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req editorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	editor := strings.TrimSpace(req.Editor)
	if editor == "" {
		http.Error(w, "editor is required", http.StatusBadRequest)
		return "", false
	}
	return editor, true
}
