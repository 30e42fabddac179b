package services

import (
	"context"

	"codoc/internal/models"
)

// Interfaces are declared here, by the consumer, and satisfied by the
// concrete repositories in internal/repository.

// DocumentLookup is what the access gate needs from document storage.
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// UserRepository is what the auth service needs from account storage.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}
