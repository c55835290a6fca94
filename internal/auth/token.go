// ABOUTME: Bearer token resolution from config, environment, or token file
// ABOUTME: JWTs are inspected without verification to fail fast on expiry

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EnvToken names the environment variable holding a bearer token.
const EnvToken = "COVEN_TOKEN"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Source supplies the bearer token for outgoing requests. An empty token
// means requests are sent without Authorization.
type Source interface {
	Token() (string, error)
}

// Static is a Source that always returns the same token.
type Static string

// Token implements Source.
func (s Static) Token() (string, error) { return string(s), nil }

// Claims are the fields read from a JWT bearer token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// TokenSource resolves a token from config, environment, or a token file.
type TokenSource struct {
	token string
	file  string
	now   func() time.Time
}

// NewTokenSource creates a TokenSource. An empty file uses DefaultTokenFile.
func NewTokenSource(token, file string) *TokenSource {
	return &TokenSource{token: token, file: file, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (s *TokenSource) WithClock(now func() time.Time) *TokenSource {
	s.now = now
	return s
}

// DefaultTokenFile returns ~/.config/coven/token, or "" without a home directory.
func DefaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "coven", "token")
}

// Token returns the resolved token after checking JWT expiry.
func (s *TokenSource) Token() (string, error) {
	tok, err := s.resolve()
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", nil
	}

	if _, err := Inspect(tok, s.now()); err != nil {
		return "", err
	}
	return tok, nil
}

func (s *TokenSource) resolve() (string, error) {
	if s.token != "" {
		return strings.TrimSpace(s.token), nil
	}
	if env := os.Getenv(EnvToken); env != "" {
		return strings.TrimSpace(env), nil
	}

	path := s.file
	explicit := path != ""
	if !explicit {
		path = DefaultTokenFile()
		if path == "" {
			return "", nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Inspect decodes tok without verifying its signature. Opaque tokens return
// zero Claims and no error; JWTs past their exp claim return ErrExpiredToken.
func Inspect(tok string, now time.Time) (Claims, error) {
	if strings.Count(tok, ".") != 2 {
		return Claims{}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var out Claims
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: exp: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return out, ErrExpiredToken
		}
	}
	return out, nil
}
