// Package relaytoken mints and verifies the short-lived claim sets that
// authorize relay connections. Relay tokens are signed with their own secret,
// distinct from user tokens: the relay never accepts a user token and the
// control plane never accepts a relay token.
package relaytoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail signature or expiry checks.
var ErrInvalidToken = errors.New("relaytoken: invalid token")

// Claims is the scoped grant carried by a relay token. Validity is purely a
// function of signature and expiry at verification time; tokens are not
// persisted and not marked single-use.
type Claims struct {
	SessionID     int64  `json:"session_id"`
	RecordingPath string `json:"recording_path"`
	VaultPath     string `json:"vault_path"`
	AssetHost     string `json:"asset_host"`
	AssetPort     int    `json:"asset_port"`
	UserID        int64  `json:"user_id"`
	jwt.RegisteredClaims
}

// Minter signs relay tokens.
type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter creates a Minter.
func NewMinter(secret string, ttl time.Duration) *Minter {
	return NewMinterWithClock(secret, ttl, func() time.Time { return time.Now().UTC() })
}

// NewMinterWithClock creates a Minter with a custom clock (for testing).
func NewMinterWithClock(secret string, ttl time.Duration, now func() time.Time) *Minter {
	if now == nil {
		panic("relaytoken: nil clock")
	}
	return &Minter{secret: []byte(secret), ttl: ttl, now: now}
}

// Mint signs a token for the given claims, stamping expiry and a unique id.
func (m *Minter) Mint(c Claims) (string, error) {
	now := m.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	c.ID = uuid.NewString()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

// Verify validates signature and expiry and returns the claims.
func Verify(secret, token string) (*Claims, error) {
	return VerifyAt(secret, token, time.Now().UTC)
}

// VerifyAt validates a token against a custom clock (for testing).
func VerifyAt(secret, token string, now func() time.Time) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID <= 0 || claims.VaultPath == "" || claims.AssetHost == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
