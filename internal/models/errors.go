package models

import "errors"

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrForbidden        = errors.New("access denied")
	ErrReadOnly         = errors.New("read-only access")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidInput     = errors.New("invalid input")
)
