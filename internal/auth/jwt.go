package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/models"
)

// ErrUnauthenticated covers every token failure: bad signature, malformed
// token, wrong secret, expiry. Callers never learn which check failed.
var ErrUnauthenticated = errors.New("invalid or expired token")

// Claims holds the identity a token proves: user, organization, and role.
type Claims struct {
	UserID         uuid.UUID   `json:"user_id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	Role           models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access and refresh tokens. Access tokens
// are short-lived and verified without a store lookup; refresh tokens are
// long-lived, signed with a distinct secret, and must additionally be
// confirmed current against the session registry by the caller.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService creates a token service with distinct access/refresh secrets.
func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// RefreshTTL returns the refresh token lifetime, for session persistence.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssueAccessToken signs a short-lived access token.
func (s *TokenService) IssueAccessToken(userID, orgID uuid.UUID, role models.Role) (string, error) {
	return s.sign(userID, orgID, role, s.accessSecret, s.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token. The caller is
// responsible for persisting the matching session record.
func (s *TokenService) IssueRefreshToken(userID, orgID uuid.UUID, role models.Role) (string, error) {
	return s.sign(userID, orgID, role, s.refreshSecret, s.refreshTTL)
}

// VerifyAccessToken checks signature and expiry of an access token.
func (s *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	return s.verify(token, s.accessSecret)
}

// VerifyRefreshToken checks signature and expiry of a refresh token.
func (s *TokenService) VerifyRefreshToken(token string) (*Claims, error) {
	return s.verify(token, s.refreshSecret)
}

func (s *TokenService) sign(userID, orgID uuid.UUID, role models.Role, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (s *TokenService) verify(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrUnauthenticated
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}
