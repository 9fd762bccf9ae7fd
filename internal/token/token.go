// Package token signs and verifies the JWT credentials used by the API:
// short-lived access tokens and rotating refresh tokens, plus the random
// password-reset tokens that are stored hashed server-side.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed covers bad structure, bad signature and wrong signing method.
	ErrMalformed = errors.New("token is malformed")
	// ErrExpired means the signature checked out but the token is past expiry.
	ErrExpired = errors.New("token has expired")
)

// Claims is the verified content of an access or refresh token.
type Claims struct {
	UserID   string
	IssuedAt time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
}

// Manager issues and verifies tokens with the configured secrets and TTLs.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (m *Manager) SignAccess(userID string) (string, error) {
	return sign(userID, m.accessSecret, m.accessTTL)
}

func (m *Manager) SignRefresh(userID string) (string, error) {
	return sign(userID, m.refreshSecret, m.refreshTTL)
}

// VerifyAccess checks the signature and expiry of an access token.
func (m *Manager) VerifyAccess(tokenStr string) (Claims, error) {
	return verify(tokenStr, m.accessSecret)
}

// VerifyRefresh checks the signature and expiry of a refresh token.
func (m *Manager) VerifyRefresh(tokenStr string) (Claims, error) {
	return verify(tokenStr, m.refreshSecret)
}

func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

func sign(userID string, secret []byte, ttl time.Duration) (string, error) {
	const op = "token.sign"

	now := time.Now()

	// The jti keeps two tokens signed for the same user within the same
	// second from colliding in the refresh-token store.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// verify never panics on user-controlled input; every failure maps to
// ErrExpired or ErrMalformed.
func verify(tokenStr string, secret []byte) (Claims, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrMalformed
	}

	if !token.Valid || claims.UserID == "" {
		return Claims{}, ErrMalformed
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	return Claims{
		UserID:   claims.UserID,
		IssuedAt: issuedAt,
	}, nil
}

// NewResetToken returns a random reset token and the SHA-256 hex digest
// that is stored in place of the raw value.
func NewResetToken() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("token.NewResetToken: %w", err)
	}

	raw = hex.EncodeToString(buf)

	return raw, HashResetToken(raw), nil
}

func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
