package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"nannynest/middleware"
	"nannynest/models"
	"nannynest/users"
	"nannynest/utils"
	"nannynest/xerrors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 12 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
	minPasswordLen  = 8
)

// Roles a user may pick at sign-up. Admins are provisioned out of band.
var selfServiceRoles = []string{models.RoleParent, models.RoleCaregiver}

type Service struct {
	users     users.Store
	accessTTL time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store users.Store, log *zap.Logger) *Service {
	return &Service{
		users:     store,
		accessTTL: accessTokenTTL,
		log:       log.Named("auth"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetAccessTTL overrides the lifetime of issued access tokens.
func (s *Service) SetAccessTTL(d time.Duration) {
	if d > 0 {
		s.accessTTL = d
	}
}

type RegisterRequest struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Phone     string   `json:"phone"`
	Roles     []string `json:"roles"`
}

// Session is what a successful login hands back to the client.
type Session struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	User         *models.User `json:"user"`
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	email := utils.NormalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, xerrors.Invalid("email", "must be a valid email address")
	}
	if len(req.Password) < minPasswordLen {
		return nil, xerrors.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return nil, xerrors.Invalid("firstName", "is required")
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{models.RoleParent}
	}
	for _, role := range req.Roles {
		if !slices.Contains(selfServiceRoles, role) {
			return nil, xerrors.Invalid("roles", "must be parent or caregiver")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		ID:           utils.GetUUID(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        strings.TrimSpace(req.Phone),
		Roles:        slices.Compact(slices.Sorted(slices.Values(req.Roles))),
		CreatedAt:    s.now(),
	}
	if err := s.users.Insert(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", u.ID), zap.Strings("roles", u.Roles))
	return s.issue(ctx, u)
}

// Login checks the password and starts a session. Unknown emails and bad
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("invalid email or password: %w", xerrors.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", xerrors.ErrUnauthorized)
	}
	return s.issue(ctx, u)
}

// Refresh swaps a refresh token for a new session. Each refresh token
// works once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, xerrors.Invalid("refreshToken", "is required")
	}
	u, err := s.users.GetByRefreshToken(ctx, hashToken(refreshToken))
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("invalid refresh token: %w", xerrors.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if u.RefreshExpiry == nil || !s.now().Before(*u.RefreshExpiry) {
		return nil, fmt.Errorf("refresh token expired: %w", xerrors.ErrUnauthorized)
	}
	return s.issue(ctx, u)
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.users.ClearRefreshToken(ctx, userID)
}

func (s *Service) issue(ctx context.Context, u *models.User) (*Session, error) {
	token, err := middleware.IssueToken(u, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	refresh, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if err := s.users.SetRefreshToken(ctx, u.ID, hashToken(refresh), s.now().Add(refreshTokenTTL)); err != nil {
		return nil, err
	}
	return &Session{
		Token:        token,
		RefreshToken: refresh,
		ExpiresAt:    s.now().Add(s.accessTTL),
		User:         u,
	}, nil
}

func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
