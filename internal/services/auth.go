package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codoc/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthService handles signup, login and the bearer tokens that identify
// a connection before it is upgraded to a websocket.
type AuthService struct {
	users  UserRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(users UserRepository, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

type tokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Signup creates an account and returns a token for it.
func (s *AuthService) Signup(ctx context.Context, creds models.Credentials) (*models.AuthResponse, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrInvalidInput)
	}
	name := strings.TrimSpace(creds.Name)
	if name == "" {
		name = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{Username: username, Name: name, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return s.respond(user)
}

// Login checks the password and returns a fresh token.
func (s *AuthService) Login(ctx context.Context, creds models.Credentials) (*models.AuthResponse, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(creds.Username))
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.respond(user)
}

func (s *AuthService) respond(user *models.User) (*models.AuthResponse, error) {
	token, err := s.IssueToken(user.Username, user.Name)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, Username: user.Username, Name: user.Name}, nil
}

// IssueToken signs an HS256 token whose subject is the username.
func (s *AuthService) IssueToken(username, name string) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token and returns the username it was issued to.
func (s *AuthService) VerifyToken(tokenString string) (string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", models.ErrInvalidToken
	}
	return claims.Subject, nil
}
