package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/strefethen/hotel-hub-go/internal/config"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// disabled accounts alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Admin is a staff account allowed to use the admin API.
type Admin struct {
	AdminID   string    `json:"admin_id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`

	passwordHash string
}

// AdminStore persists admin accounts.
type AdminStore struct {
	dbPair *db.DBPair
}

func NewAdminStore(dbPair *db.DBPair) *AdminStore {
	return &AdminStore{dbPair: dbPair}
}

const adminColumns = `admin_id, username, password_hash, is_active, created_at`

func scanAdmin(row interface{ Scan(...any) error }) (*Admin, error) {
	var (
		admin     Admin
		isActive  int
		createdAt string
	)
	if err := row.Scan(&admin.AdminID, &admin.Username, &admin.passwordHash, &isActive, &createdAt); err != nil {
		return nil, err
	}
	admin.IsActive = isActive == 1
	admin.CreatedAt, _ = db.ParseTime(createdAt)
	return &admin, nil
}

// GetByUsername returns nil when no such admin exists.
func (s *AdminStore) GetByUsername(ctx context.Context, username string) (*Admin, error) {
	row := s.dbPair.Reader().QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE username = ?`, username)
	admin, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return admin, err
}

// GetByID returns nil when no such admin exists.
func (s *AdminStore) GetByID(ctx context.Context, adminID string) (*Admin, error) {
	row := s.dbPair.Reader().QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE admin_id = ?`, adminID)
	admin, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return admin, err
}

// Count returns the number of admin rows.
func (s *AdminStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.dbPair.Reader().QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count)
	return count, err
}

// Create hashes password with bcrypt and inserts a new active admin.
func (s *AdminStore) Create(ctx context.Context, username, password string) (*Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	admin := &Admin{
		AdminID:      uuid.NewString(),
		Username:     username,
		IsActive:     true,
		CreatedAt:    now,
		passwordHash: string(hash),
	}
	_, err = s.dbPair.Writer().ExecContext(ctx,
		`INSERT INTO admins (admin_id, username, password_hash, is_active, created_at) VALUES (?, ?, ?, 1, ?)`,
		admin.AdminID, admin.Username, admin.passwordHash, db.FormatTime(now))
	if err != nil {
		return nil, err
	}
	return admin, nil
}

// SetActive enables or disables an account.
func (s *AdminStore) SetActive(ctx context.Context, adminID string, active bool) error {
	value := 0
	if active {
		value = 1
	}
	_, err := s.dbPair.Writer().ExecContext(ctx, `UPDATE admins SET is_active = ? WHERE admin_id = ?`, value, adminID)
	return err
}

// IsActive reports whether the admin exists and is enabled.
func (s *AdminStore) IsActive(ctx context.Context, adminID string) (bool, error) {
	admin, err := s.GetByID(ctx, adminID)
	if err != nil || admin == nil {
		return false, err
	}
	return admin.IsActive, nil
}

// =============================================================================
// Service
// =============================================================================

// Service authenticates admins and issues token pairs.
type Service struct {
	cfg    config.Config
	store  *AdminStore
	logger *zap.Logger
}

func NewService(cfg config.Config, store *AdminStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, store: store, logger: logger}
}

// Store exposes the admin store for token validation.
func (s *Service) Store() *AdminStore {
	return s.store
}

// Login verifies credentials and returns a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, *Admin, error) {
	admin, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if admin == nil || !admin.IsActive {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.passwordHash), []byte(password)) != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	tokens, err := GenerateTokenPair(s.cfg, TokenPayload{Sub: admin.AdminID, Username: admin.Username})
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.logger.Info("admin logged in", zap.String("username", admin.Username))
	return tokens, admin, nil
}

// EnsureBootstrapAdmin creates the configured admin when the table is empty.
// It does nothing when no credentials are configured.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context) error {
	if s.cfg.AdminUsername == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := s.store.Create(ctx, s.cfg.AdminUsername, s.cfg.AdminPassword); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin created", zap.String("username", s.cfg.AdminUsername))
	return nil
}
