// Package auth signs and verifies bearer credentials.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/model"
)

// DefaultTTL is how long an issued credential stays valid.
const DefaultTTL = 72 * time.Hour

// Claims is the JWT payload.
type Claims struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email"`
	Role   model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. A non-positive ttl falls back to DefaultTTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a credential for the identity.
func (s *Signer) Issue(id model.Identity) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the embedded identity.
func (s *Signer) Verify(tokenString string) (*model.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, apperr.ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", apperr.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, apperr.ErrInvalidToken
	}

	return &model.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// VerifyAdmin succeeds only for identities holding the admin role.
func VerifyAdmin(id *model.Identity) error {
	if id == nil {
		return apperr.ErrUnauthorized
	}
	if !id.IsAdmin() {
		return apperr.ErrForbidden
	}
	return nil
}
