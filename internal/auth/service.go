package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/store"
	"github.com/teamloop/backend/pkg/utils"
)

var (
	// ErrEmailTaken means the email already has an account.
	ErrEmailTaken = errors.New("email already in use")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidSession means the refresh token is unknown, expired, or
	// superseded by rotation.
	ErrInvalidSession = errors.New("invalid or expired refresh token")
)

var slugStrip = regexp.MustCompile(`[^a-z0-9\s-]`)
var slugSpaces = regexp.MustCompile(`\s+`)

// TokenPair is the access/refresh pair returned by register, login, and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is the full response for register and login.
type AuthResult struct {
	TokenPair
	User         models.UserPublic    `json:"user"`
	Organization *models.Organization `json:"organization"`
}

// Service implements registration, login, and the session registry:
// refresh token persistence, rotation-on-use, and revocation.
type Service struct {
	store  store.Store
	tokens *TokenService
	logger *zap.Logger
}

// NewService creates an auth service.
func NewService(st store.Store, tokens *TokenService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, tokens: tokens, logger: logger}
}

// Register creates an organization and its first ADMIN user in one
// transaction, then issues and persists a session.
func (s *Service) Register(ctx context.Context, name, email, password, orgName string) (*AuthResult, error) {
	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	slug, err := s.uniqueSlug(ctx, orgName)
	if err != nil {
		return nil, err
	}

	org := &models.Organization{Name: orgName, Slug: slug, Plan: models.PlanFree}
	user := &models.User{Email: email, PasswordHash: hash, Name: name, Role: models.RoleAdmin}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertOrganization(ctx, org); err != nil {
			return err
		}
		user.OrganizationID = org.ID
		return tx.InsertUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	pair, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("organization registered",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
		zap.String("user_id", user.ID.String()),
	)
	return &AuthResult{TokenPair: *pair, User: user.ToPublic(), Organization: org}, nil
}

// Login verifies credentials and issues a fresh session.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	org, err := s.store.FindOrganization(ctx, user.OrganizationID)
	if err != nil {
		return nil, err
	}

	pair, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: *pair, User: user.ToPublic(), Organization: org}, nil
}

// Refresh rotates a refresh token: verifies the signature, then atomically
// deletes the old record and inserts the new one. Concurrent rotations of
// the same token have exactly one winner; losers observe ErrInvalidSession,
// and a rotated-away token can never become valid again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidSession
	}

	newRefresh, err := s.tokens.IssueRefreshToken(claims.UserID, claims.OrganizationID, claims.Role)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	newAccess, err := s.tokens.IssueAccessToken(claims.UserID, claims.OrganizationID, claims.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		rec, err := tx.FindRefreshToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidSession
			}
			return err
		}
		if rec.ExpiresAt.Before(time.Now()) {
			return ErrInvalidSession
		}
		deleted, err := tx.DeleteRefreshToken(ctx, refreshToken)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrInvalidSession
		}
		return tx.InsertRefreshToken(ctx, &models.RefreshToken{
			Token:     newRefresh,
			UserID:    rec.UserID,
			ExpiresAt: time.Now().Add(s.tokens.RefreshTTL()),
		})
	})
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: newAccess, RefreshToken: newRefresh}, nil
}

// Logout revokes a refresh token. Idempotent: revoking an absent token is
// not an error, so logout is safe to retry.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.store.DeleteRefreshToken(ctx, refreshToken)
	return err
}

// issueSession signs an access/refresh pair and persists the refresh record.
func (s *Service) issueSession(ctx context.Context, user *models.User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user.ID, user.OrganizationID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID, user.OrganizationID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	err = s.store.InsertRefreshToken(ctx, &models.RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.tokens.RefreshTTL()),
	})
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// uniqueSlug derives a URL slug from the organization name, suffixing -1,
// -2, ... until it is free.
func (s *Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		base = "org"
	}
	slug := base
	for n := 1; ; n++ {
		_, err := s.store.FindOrganizationBySlug(ctx, slug)
		if errors.Is(err, store.ErrNotFound) {
			return slug, nil
		}
		if err != nil {
			return "", err
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

func slugify(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
