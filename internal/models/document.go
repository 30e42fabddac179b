package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type DocumentKind string

const (
	KindDoc  DocumentKind = "doc"  // rich text
	KindCode DocumentKind = "code" // source code with a language
)

// Valid reports whether k is a known document kind.
func (k DocumentKind) Valid() bool {
	return k == KindDoc || k == KindCode
}

// Document is the durable record behind a collaboration room.
// Content is stored verbatim; the server never interprets the editor tree.
type Document struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	Kind      DocumentKind   `json:"kind" gorm:"type:varchar(16);not null;default:'doc';index"`
	Title     string         `json:"title" gorm:"type:text;not null"`
	Content   string         `json:"-" gorm:"type:jsonb;not null;default:'[]'"`
	Language  string         `json:"language,omitempty" gorm:"type:varchar(32)"`
	OwnerID   string         `json:"owner" gorm:"type:varchar(64);not null;index"`
	Editors   pq.StringArray `json:"editors" gorm:"type:text[];not null;default:'{}'"`
	Private   bool           `json:"private" gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

// Snapshot extracts the synchronizable part of the document.
func (d *Document) Snapshot() *DocumentSnapshot {
	content := json.RawMessage(d.Content)
	if len(content) == 0 {
		content = EmptyContent()
	}
	return &DocumentSnapshot{
		Content:  content,
		Title:    d.Title,
		Language: d.Language,
	}
}

// HasEditor reports whether userID is listed as an editor.
func (d *Document) HasEditor(userID string) bool {
	for _, e := range d.Editors {
		if e == userID {
			return true
		}
	}
	return false
}

// DocumentSnapshot is what the collaboration core reads on join and writes on flush.
type DocumentSnapshot struct {
	Content  json.RawMessage `json:"value"`
	Title    string          `json:"title"`
	Language string          `json:"language,omitempty"`
}

// Clone returns a copy that shares no mutable state with s.
func (s DocumentSnapshot) Clone() DocumentSnapshot {
	if s.Content != nil {
		s.Content = append(json.RawMessage(nil), s.Content...)
	}
	return s
}

// EmptyContent is the editor tree of a blank document: one empty paragraph.
func EmptyContent() json.RawMessage {
	return json.RawMessage(`[{"children":[{"text":""}]}]`)
}

type DocumentCreate struct {
	Kind     DocumentKind    `json:"kind"`
	Title    string          `json:"title"`
	Language string          `json:"language,omitempty"`
	Content  json.RawMessage `json:"value,omitempty"`
	Private  bool            `json:"private"`
}

// DocumentView is the API representation of a document for a given caller.
type DocumentView struct {
	*Document
	Value json.RawMessage `json:"value"`
	Role  Role            `json:"role,omitempty"`
}

func NewDocumentView(doc *Document, role Role) *DocumentView {
	return &DocumentView{Document: doc, Value: doc.Snapshot().Content, Role: role}
}
