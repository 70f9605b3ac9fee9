// Package identity resolves pair membership from signed session tokens.
//
// The role of a caller is always taken from the token, never from a request
// payload, so a member can only ever act as itself.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/duet/internal/storage"
)

const (
	// DefaultTokenExpiration is the default lifetime of a member session token.
	DefaultTokenExpiration = 30 * 24 * time.Hour

	issuer = "duet"
)

var (
	// ErrUnauthenticated is returned when a token is missing, malformed or expired.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when an identity acts on a pair it is not part of.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the authenticated (pair, role) of a caller.
type Identity struct {
	PairID string
	Role   storage.Role
}

func (i Identity) String() string {
	return i.PairID + "/" + string(i.Role)
}

// Authorize returns ErrForbidden unless the identity belongs to pairID.
func (i Identity) Authorize(pairID string) error {
	if pairID == "" || i.PairID != pairID {
		return fmt.Errorf("%w: %s is not a member of pair %s", ErrForbidden, i, pairID)
	}
	return nil
}

// Claims represents the JWT claims of a member session.
type Claims struct {
	PairID string `json:"pair_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver issues and validates member session tokens.
type Resolver struct {
	secret          []byte
	tokenExpiration time.Duration
	now             func() time.Time
}

// NewResolver creates a resolver signing with the given HMAC secret.
func NewResolver(secret string, tokenExpiration time.Duration) *Resolver {
	if tokenExpiration == 0 {
		tokenExpiration = DefaultTokenExpiration
	}

	return &Resolver{
		secret:          []byte(secret),
		tokenExpiration: tokenExpiration,
		now:             time.Now,
	}
}

// IssueToken signs a session token for one member of a pair.
func (r *Resolver) IssueToken(pairID string, role storage.Role) (string, time.Time, error) {
	if pairID == "" {
		return "", time.Time{}, fmt.Errorf("pair id is required")
	}
	if _, err := storage.ParseRole(string(role)); err != nil {
		return "", time.Time{}, err
	}

	now := r.now()
	expiresAt := now.Add(r.tokenExpiration)
	claims := &Claims{
		PairID: pairID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   pairID + "/" + string(role),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Resolve validates a token and returns the identity it carries.
func (r *Resolver) Resolve(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(r.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	role, err := storage.ParseRole(claims.Role)
	if err != nil || claims.PairID == "" {
		return Identity{}, ErrUnauthenticated
	}

	return Identity{PairID: claims.PairID, Role: role}, nil
}

// FromAuthorizationHeader extracts a bearer token from an Authorization header value.
func FromAuthorizationHeader(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
