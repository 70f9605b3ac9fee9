package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/duet/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndResolve(t *testing.T) {
	r := NewResolver("test-secret", time.Hour)

	token, expiresAt, err := r.IssueToken("pair-1", storage.RoleMember2)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	id, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "pair-1", id.PairID)
	assert.Equal(t, storage.RoleMember2, id.Role)
}

func TestResolveRejects(t *testing.T) {
	r := NewResolver("test-secret", time.Hour)
	other := NewResolver("other-secret", time.Hour)

	foreign, _, err := other.IssueToken("pair-1", storage.RoleMember1)
	require.NoError(t, err)

	expired := NewResolver("test-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := expired.IssueToken("pair-1", storage.RoleMember1)
	require.NoError(t, err)

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		PairID:           "pair-1",
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	})
	badRoleToken, err := badRole.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: stale},
		{name: "unknown role", token: badRoleToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.token)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestIssueTokenValidatesInput(t *testing.T) {
	r := NewResolver("test-secret", 0)

	_, _, err := r.IssueToken("", storage.RoleMember1)
	assert.Error(t, err)

	_, _, err = r.IssueToken("pair-1", storage.Role("member3"))
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	id := Identity{PairID: "pair-1", Role: storage.RoleMember1}

	assert.NoError(t, id.Authorize("pair-1"))
	assert.ErrorIs(t, id.Authorize("pair-2"), ErrForbidden)
	assert.ErrorIs(t, id.Authorize(""), ErrForbidden)
}

func TestFromAuthorizationHeader(t *testing.T) {
	assert.Equal(t, "abc", FromAuthorizationHeader("Bearer abc"))
	assert.Equal(t, "abc", FromAuthorizationHeader("bearer abc"))
	assert.Equal(t, "", FromAuthorizationHeader("Basic abc"))
	assert.Equal(t, "", FromAuthorizationHeader("Bearer "))
}
