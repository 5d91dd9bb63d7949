package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	token, err := svc.Issue(42, "alice")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "42", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyRejects(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	valid, err := svc.Issue(1, "alice")
	require.NoError(t, err)

	expired := NewTokenService("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Issue(1, "alice")
	require.NoError(t, err)

	otherKey, err := NewTokenService("other-secret", time.Hour).Issue(1, "alice")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Username: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty", token: "", wantErr: ErrUnauthenticated},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidToken},
		{name: "tampered", token: valid + "x", wantErr: ErrInvalidToken},
		{name: "expired", token: expiredToken, wantErr: ErrInvalidToken},
		{name: "wrong key", token: otherKey, wantErr: ErrInvalidToken},
		{name: "alg none", token: unsigned, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.Verify(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Bearer"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("pw1")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", hash)
	assert.True(t, CheckPasswordHash("pw1", hash))
	assert.False(t, CheckPasswordHash("pw2", hash))
}
