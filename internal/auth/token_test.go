// ABOUTME: Unit tests for bearer token resolution and JWT inspection
// ABOUTME: Tests config, env, and file sources plus expired and opaque tokens

package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": exp.Add(-time.Hour).Unix(),
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("server-side-secret-not-known-to-client"))
	require.NoError(t, err)
	return s
}

func TestTokenSource_ConfigTokenWins(t *testing.T) {
	t.Setenv(EnvToken, "from-env")

	tok, err := NewTokenSource("  from-config \n", "").Token()
	require.NoError(t, err)
	assert.Equal(t, "from-config", tok)
}

func TestTokenSource_EnvBeforeFile(t *testing.T) {
	t.Setenv(EnvToken, "from-env")
	file := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(file, []byte("from-file"), 0600))

	tok, err := NewTokenSource("", file).Token()
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)
}

func TestTokenSource_File(t *testing.T) {
	t.Setenv(EnvToken, "")
	file := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(file, []byte("from-file\n"), 0600))

	tok, err := NewTokenSource("", file).Token()
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)
}

func TestTokenSource_MissingExplicitFileFails(t *testing.T) {
	t.Setenv(EnvToken, "")

	_, err := NewTokenSource("", filepath.Join(t.TempDir(), "nope")).Token()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTokenSource_NoTokenAnywhere(t *testing.T) {
	t.Setenv(EnvToken, "")
	t.Setenv("HOME", t.TempDir())

	tok, err := NewTokenSource("", "").Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestTokenSource_ExpiredJWT(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := signedToken(t, "user-1", now.Add(-time.Minute))

	_, err := NewTokenSource(tok, "").WithClock(func() time.Time { return now }).Token()
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenSource_ValidJWT(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := signedToken(t, "user-1", now.Add(time.Hour))

	got, err := NewTokenSource(tok, "").WithClock(func() time.Time { return now }).Token()
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestInspect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("claims", func(t *testing.T) {
		exp := now.Add(time.Hour)
		claims, err := Inspect(signedToken(t, "user-1", exp), now)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.True(t, claims.ExpiresAt.Equal(exp.Truncate(time.Second)))
	})

	t.Run("opaque", func(t *testing.T) {
		claims, err := Inspect("sk-opaque-api-key", now)
		require.NoError(t, err)
		assert.Equal(t, Claims{}, claims)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Inspect("header.payload.signature", now)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no exp", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "svc"})
		s, err := tok.SignedString([]byte("k"))
		require.NoError(t, err)

		claims, err := Inspect(s, now)
		require.NoError(t, err)
		assert.Equal(t, "svc", claims.Subject)
		assert.True(t, claims.ExpiresAt.IsZero())
	})
}

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}
