package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a
// wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 8

type UserService struct {
	db core.DbClient
}

func NewUserService(db core.DbClient) *UserService {
	return &UserService{db: db}
}

// Register creates a user with a bcrypt hash of password.
func (s *UserService) Register(ctx context.Context, firstName, email, password, domain string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &core.ValidationError{Rule: "email", Message: "invalid email address"}
	}
	if len(password) < minPasswordLength {
		return nil, &core.ValidationError{Rule: "password", Message: "password must be at least 8 characters"}
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, &core.ValidationError{Rule: "domain", Message: "domain is required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		FirstName:    strings.TrimSpace(firstName),
		Email:        email,
		Domain:       domain,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) Create(ctx context.Context, u *models.User) error {
	if u == nil || u.Email == "" || u.PasswordHash == "" {
		return &core.ValidationError{Rule: "user", Message: "invalid user payload"}
	}
	return s.db.CreateUser(ctx, u)
}

// Authenticate returns the user whose password matches.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.db.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}
