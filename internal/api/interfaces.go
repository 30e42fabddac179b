package api

import (
	"context"
	"net/http"

	"codoc/internal/models"
)

/*
Interfaces the handlers consume. They are declared here, next to the code that
calls them, and satisfied by repository.DocumentRepositoryImpl, services.AuthService
and the collaboration package. Tests swap in in-memory fakes.
*/

// DocumentRepository is what the document endpoints need from storage.
type DocumentRepository interface {
	Create(ctx context.Context, ownerID string, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListForUser(ctx context.Context, userID string, kind models.DocumentKind, limit, offset int) ([]*models.Document, error)
	Write(ctx context.Context, id string, snap models.DocumentSnapshot) error
	Delete(ctx context.Context, id string) error
	AddEditor(ctx context.Context, id, editor string) error
	RemoveEditor(ctx context.Context, id, editor string) error
}

// UserLookup checks that an editor being added has an account.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// AuthService issues tokens for new and returning users.
type AuthService interface {
	Signup(ctx context.Context, creds models.Credentials) (*models.AuthResponse, error)
	Login(ctx context.Context, creds models.Credentials) (*models.AuthResponse, error)
}

// PresenceSource reports which sessions are live in a document's room.
type PresenceSource interface {
	Members(documentID string) []string
}

// ConnectionHandler upgrades a request into a collaboration session.
type ConnectionHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
}
