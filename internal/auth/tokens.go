package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types. Access tokens authenticate API calls; refresh tokens may only
// be exchanged for new token pairs. They are signed with different secrets
// and neither is ever accepted by the relay.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or type
// checks.
var ErrInvalidToken = errors.New("auth: invalid token")

type userClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies user access and refresh tokens.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return NewTokenIssuerWithClock(accessSecret, refreshSecret, accessTTL, refreshTTL,
		func() time.Time { return time.Now().UTC() })
}

// NewTokenIssuerWithClock creates a TokenIssuer with a custom clock (for testing).
func NewTokenIssuerWithClock(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		panic("auth: nil clock")
	}
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}
}

// AccessToken mints a typed access token for the user.
func (i *TokenIssuer) AccessToken(userID int64) (string, error) {
	return i.mint(userID, TokenTypeAccess, i.accessSecret, i.accessTTL)
}

// RefreshToken mints a typed refresh token for the user.
func (i *TokenIssuer) RefreshToken(userID int64) (string, error) {
	return i.mint(userID, TokenTypeRefresh, i.refreshSecret, i.refreshTTL)
}

func (i *TokenIssuer) mint(userID int64, typ string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	claims := userClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess validates an access token and returns the user id it names.
func (i *TokenIssuer) VerifyAccess(token string) (int64, error) {
	return i.verify(token, TokenTypeAccess, i.accessSecret)
}

// VerifyRefresh validates a refresh token and returns the user id it names.
func (i *TokenIssuer) VerifyRefresh(token string) (int64, error) {
	return i.verify(token, TokenTypeRefresh, i.refreshSecret)
}

func (i *TokenIssuer) verify(token, wantType string, secret []byte) (int64, error) {
	var claims userClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if claims.Type != wantType {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
