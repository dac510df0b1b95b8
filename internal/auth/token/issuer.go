// Package token mints the bridge's own credentials after a successful login:
// a short-lived HS256 access token in the console's format, and an opaque
// refresh token recorded in Redis with a 30-day expiry.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	// Claim values the console expects on its access tokens.
	accessTokenIssuer  = "SELF_HOSTED"
	accessTokenSubject = "Console API Passport"

	DefaultAccessTokenTTL  = 60 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	refreshTokenBytes = 64 // matches secrets.token_hex(64): 128 hex chars
)

// ErrRefreshTokenNotFound means the cache has no mapping for the given token
// or account, either because it was never issued or because its TTL elapsed.
var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// AccessClaims is the payload of a console access token.
type AccessClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Issuer mints access and refresh tokens for provisioned accounts.
type Issuer struct {
	secret     []byte
	rdb        redis.UniversalClient
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer builds an Issuer signing with secret and persisting refresh
// tokens through rdb. The redis.UniversalClient seam lets tests substitute a
// miniredis-backed client.
func NewIssuer(secret string, rdb redis.UniversalClient) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		rdb:        rdb,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
	}
}

// WithTTLs overrides the token lifetimes. Non-positive values keep the
// defaults.
func (i *Issuer) WithTTLs(access, refresh time.Duration) *Issuer {
	if access > 0 {
		i.accessTTL = access
	}
	if refresh > 0 {
		i.refreshTTL = refresh
	}
	return i
}

// IssueAccessToken signs a console access token for the account. The token is
// self-contained and never persisted; validity is signature plus expiry.
func (i *Issuer) IssueAccessToken(accountID string) (string, error) {
	claims := AccessClaims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.accessTTL)),
			Issuer:    accessTokenIssuer,
			Subject:   accessTokenSubject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// VerifyAccessToken checks an access token's signature and expiry and returns
// the account id it was issued to.
func (i *Issuer) VerifyAccessToken(raw string) (string, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(accessTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid access token: %w", err)
	}
	return claims.UserID, nil
}

func refreshTokenKey(token string) string { return "refresh_token:" + token }

func accountRefreshKey(accountID string) string { return "account_refresh_token:" + accountID }

// IssueRefreshToken generates a high-entropy opaque token and records it in
// the cache under two keys, token->account and account->token, both with the
// refresh TTL. Issuing a new token repoints the account->token mapping but
// leaves any prior token->account entry to expire on its own, so an earlier
// refresh token stays usable until its original TTL runs out.
func (i *Issuer) IssueRefreshToken(ctx context.Context, accountID string) (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := i.rdb.Set(ctx, refreshTokenKey(tok), accountID, i.refreshTTL).Err(); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	if err := i.rdb.Set(ctx, accountRefreshKey(accountID), tok, i.refreshTTL).Err(); err != nil {
		return "", fmt.Errorf("store account refresh mapping: %w", err)
	}
	return tok, nil
}

// LookupRefreshToken resolves a refresh token to the account it was issued to.
func (i *Issuer) LookupRefreshToken(ctx context.Context, tok string) (string, error) {
	accountID, err := i.rdb.Get(ctx, refreshTokenKey(tok)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRefreshTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	return accountID, nil
}

// CurrentRefreshToken returns the most recently issued refresh token for the
// account.
func (i *Issuer) CurrentRefreshToken(ctx context.Context, accountID string) (string, error) {
	tok, err := i.rdb.Get(ctx, accountRefreshKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRefreshTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup account refresh token: %w", err)
	}
	return tok, nil
}
