package services

import (
	"context"
	"fmt"

	"codoc/internal/middleware"
	"codoc/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// AccessGate decides what a user may do with a document before it joins a room.
type AccessGate struct {
	docs DocumentLookup
}

func NewAccessGate(docs DocumentLookup) *AccessGate {
	return &AccessGate{docs: docs}
}

// ResolveAccess returns the caller's role on documentID.
// A missing document is reported as models.ErrDocumentNotFound, not as a role.
func (g *AccessGate) ResolveAccess(ctx context.Context, userID, documentID string) (models.Role, error) {
	ctx, span := middleware.StartSpan(ctx, "AccessGate.ResolveAccess",
		attribute.String("user.id", userID),
		attribute.String("document.id", documentID),
	)
	defer span.End()

	doc, err := g.docs.GetByID(ctx, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return models.RoleForbidden, fmt.Errorf("resolve access: %w", err)
	}

	role := RoleFor(doc, userID)
	span.SetAttributes(attribute.String("access.role", string(role)))
	return role, nil
}

// RoleFor computes the role of userID on an already loaded document.
func RoleFor(doc *models.Document, userID string) models.Role {
	switch {
	case userID != "" && doc.OwnerID == userID:
		return models.RoleOwner
	case userID != "" && doc.HasEditor(userID):
		return models.RoleEditor
	case doc.Private:
		return models.RoleForbidden
	default:
		return models.RoleReadOnly
	}
}
