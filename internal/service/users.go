package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// UserService manages the users of the current organization.
type UserService struct {
	users *store.Repository[*models.User]
	cost  int
}

// NewUserService creates a user service. cost is the bcrypt cost, bcrypt.DefaultCost when 0.
func NewUserService(users *store.Repository[*models.User], cost int) *UserService {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &UserService{users: users, cost: cost}
}

// RegisterInput describes a new user.
type RegisterInput struct {
	Username    string
	Password    string
	IsStaff     bool
	IsSuperuser bool
}

// Register creates an active user in the current organization with a bcrypt password hash.
// Fails with store.ErrDuplicateInTenant if the username is taken in this organization and with
// store.ErrMissingTenantContext if no organization is bound.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, invalid("username is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, invalid("password must be at least %d characters", minPasswordLength)
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &models.User{
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      in.IsStaff || in.IsSuperuser,
		IsSuperuser:  in.IsSuperuser,
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.ID.String()).
		Str("org_id", user.OrgID.String()).
		Str("username", user.Username).
		Msg("Registered user")

	return user, nil
}

// List returns the users of the current organization ordered by username.
func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	return s.users.Query(ctx, store.OrderBy("username"))
}

// Deactivate marks a user of the current organization inactive.
func (s *UserService) Deactivate(ctx context.Context, username string) (*models.User, error) {
	matches, err := s.users.Query(ctx, store.Where("username", username), store.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}

	return s.users.Update(ctx, matches[0].ID, func(u *models.User) error {
		u.IsActive = false
		return nil
	})
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the user's stored hash.
func CheckPassword(u *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
