package repository

import (
	"context"
	"errors"
	"fmt"

	"codoc/internal/models"

	"gorm.io/gorm"
)

// UserRepositoryImpl stores accounts.
type UserRepositoryImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

// Create inserts a user. It returns models.ErrUsernameTaken when the username exists.
func (r *UserRepositoryImpl) Create(ctx context.Context, user *models.User) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", user.Username).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if count > 0 {
		return models.ErrUsernameTaken
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepositoryImpl) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User

	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}
