// Package auth manages user accounts: password hashing, validation and
// login with lockout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/go-while/go-bolts/internal/database"
	"github.com/go-while/go-bolts/internal/models"
)

const (
	MaxLoginAttempts = 5                // failed attempts before lockout
	LoginLockoutTime = 15 * time.Minute // lockout after max attempts
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrLockedOut          = errors.New("account temporarily locked, try again later")
)

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPassword checks if password matches hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateUsername validates username requirements
func ValidateUsername(username string) error {
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters long")
	}
	if len(username) > 50 {
		return fmt.Errorf("username must be less than 50 characters")
	}
	// Only allow alphanumeric and underscore
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("username can only contain letters, numbers, and underscores")
		}
	}
	return nil
}

// ValidatePassword validates password requirements
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters long")
	}
	if len(password) > 72 {
		// bcrypt ignores everything after 72 bytes
		return fmt.Errorf("password must be at most 72 bytes")
	}
	return nil
}

// ValidateEmail performs basic email validation
func ValidateEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at:], ".")
}

// Service is the account API used by the web layer and the CLI.
type Service struct {
	users    *database.UserStore
	sessions *database.SessionStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewService builds a Service over db.
func NewService(db *database.Database, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    database.NewUserStore(db),
		sessions: database.NewSessionStore(db),
		logger:   logger,
		now:      time.Now,
	}
}

// NewUser describes an account to create.
type NewUser struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	Admin       bool
}

// Create validates and stores a new user.
func (s *Service) Create(ctx context.Context, nu NewUser) (*models.User, error) {
	if err := ValidateUsername(nu.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(nu.Password); err != nil {
		return nil, err
	}
	if nu.Email != "" && !ValidateEmail(nu.Email) {
		return nil, fmt.Errorf("invalid email address %q", nu.Email)
	}
	hash, err := HashPassword(nu.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &models.User{
		Username:     nu.Username,
		Email:        nu.Email,
		DisplayName:  nu.DisplayName,
		PasswordHash: hash,
		Admin:        nu.Admin,
	}
	if u.DisplayName == "" {
		u.DisplayName = nu.Username
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", zap.String("username", u.Username), zap.Bool("admin", u.Admin))
	return u, nil
}

// Authenticate checks username and password. After MaxLoginAttempts
// failures the account is locked for LoginLockoutTime.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, database.ErrUserNotFound) {
		// burn the same time as a real check
		CheckPassword(password, dummyHash())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	if u.Locked(now) {
		return nil, ErrLockedOut
	}
	if !CheckPassword(password, u.PasswordHash) {
		attempts := u.LoginAttempts + 1
		var until time.Time
		if attempts >= MaxLoginAttempts {
			until = now.Add(LoginLockoutTime)
			attempts = 0
			s.logger.Warn("user locked out", zap.String("username", username))
		}
		if err := s.users.RecordLoginFailure(ctx, u.ID, attempts, until); err != nil {
			return nil, err
		}
		if !until.IsZero() {
			return nil, ErrLockedOut
		}
		return nil, ErrInvalidCredentials
	}
	if u.LoginAttempts > 0 || !u.LockedUntil.IsZero() {
		if err := s.users.ResetLoginAttempts(ctx, u.ID); err != nil {
			return nil, err
		}
		u.LoginAttempts, u.LockedUntil = 0, time.Time{}
	}
	return u, nil
}

// Get returns the user with id.
func (s *Service) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	return s.users.List(ctx)
}

// Delete removes a user and its sessions.
func (s *Service) Delete(ctx context.Context, username string) error {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteForUser(ctx, u.ID); err != nil {
		return err
	}
	return s.users.Delete(ctx, username)
}

// SetPassword replaces the password of username and ends its sessions.
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return err
	}
	return s.sessions.DeleteForUser(ctx, u.ID)
}

// dummyHash is compared against when the user does not exist.
var dummyHash = sync.OnceValue(func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("bolts-dummy-password"), bcrypt.DefaultCost)
	return string(h)
})
