package repository

import (
	"context"
	"errors"
	"fmt"

	"codoc/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// DocumentRepositoryImpl handles all database operations for documents using GORM.
// It is the document store behind the collaboration core as well as the REST API.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a new document owned by ownerID.
// The KSUID is generated in the BeforeCreate hook.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, ownerID string, doc *models.DocumentCreate) (*models.Document, error) {
	content := doc.Content
	if len(content) == 0 {
		content = models.EmptyContent()
	}

	document := &models.Document{
		Kind:     doc.Kind,
		Title:    doc.Title,
		Content:  string(content),
		Language: doc.Language,
		OwnerID:  ownerID,
		Editors:  pq.StringArray{ownerID},
		Private:  doc.Private,
	}

	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return document, nil
}

// GetByID retrieves a document by its KSUID.
// Soft-deleted documents are automatically excluded.
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// ListForUser returns the documents a user owns or may edit, newest first.
// An empty kind matches every kind.
func (r *DocumentRepositoryImpl) ListForUser(ctx context.Context, userID string, kind models.DocumentKind, limit, offset int) ([]*models.Document, error) {
	var documents []*models.Document

	query := r.db.WithContext(ctx).
		Where("owner_id = ? OR editors @> ARRAY[?]::text[]", userID, userID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	err := query.
		Order("id DESC"). // KSUID is time-ordered
		Limit(limit).
		Offset(offset).
		Find(&documents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// Read returns the durable snapshot of a document.
func (r *DocumentRepositoryImpl) Read(ctx context.Context, id string) (*models.DocumentSnapshot, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.Snapshot(), nil
}

// Write overwrites the synchronizable fields of a document. ACLs are never touched.
func (r *DocumentRepositoryImpl) Write(ctx context.Context, id string, snap models.DocumentSnapshot) error {
	content := snap.Content
	if len(content) == 0 {
		content = models.EmptyContent()
	}

	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":  string(content),
			"title":    snap.Title,
			"language": snap.Language,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to write document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}

	return nil
}

// Delete performs a soft delete on the document
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}

	return nil
}

// ListEditors returns the usernames allowed to edit the document.
func (r *DocumentRepositoryImpl) ListEditors(ctx context.Context, id string) ([]string, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return []string(doc.Editors), nil
}

// AddEditor appends an editor unless already present.
func (r *DocumentRepositoryImpl) AddEditor(ctx context.Context, id, editor string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ? AND NOT (? = ANY(editors))", id, editor).
		Update("editors", gorm.Expr("array_append(editors, ?)", editor))
	if result.Error != nil {
		return fmt.Errorf("failed to add editor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Either already an editor or no such document.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEditor drops an editor from the list. Removing an absent editor is a no-op.
func (r *DocumentRepositoryImpl) RemoveEditor(ctx context.Context, id, editor string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Update("editors", gorm.Expr("array_remove(editors, ?)", editor))
	if result.Error != nil {
		return fmt.Errorf("failed to remove editor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	return nil
}
