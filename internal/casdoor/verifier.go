package casdoor

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerificationError reports a well-formed rejection of an identity token:
// bad signature, wrong algorithm, expired, audience mismatch, or garbage input.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string { return fmt.Sprintf("invalid identity token: %v", e.Err) }
func (e *VerificationError) Unwrap() error { return e.Err }

// IdentityClaims are the claims Casdoor puts in its id_token that this bridge
// cares about. Casdoor emits the stable user identifier as "sub" on standard
// tokens and "id" on some older deployments.
type IdentityClaims struct {
	jwt.RegisteredClaims
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// SubjectID returns the provider's stable identifier for the user.
func (c *IdentityClaims) SubjectID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.ID
}

// Verifier validates identity tokens against a pinned Casdoor signing
// certificate. The certificate comes from configuration, never the network.
type Verifier struct {
	publicKey *rsa.PublicKey
	audience  string
	leeway    time.Duration
}

// NewVerifier parses the PEM certificate and pins its RSA public key.
// An unparsable certificate is a configuration error, fatal at startup.
func NewVerifier(certificatePEM, audience string, leeway time.Duration) (*Verifier, error) {
	block, _ := pem.Decode([]byte(certificatePEM))
	if block == nil {
		return nil, errors.New("casdoor certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse casdoor certificate: %w", err)
	}
	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("casdoor certificate holds a %T key, want RSA", cert.PublicKey)
	}
	return &Verifier{publicKey: publicKey, audience: audience, leeway: leeway}, nil
}

// Verify checks the token's RS256 signature, expiry (within the configured
// leeway) and audience, and returns its identity claims. Tokens signed with
// any other algorithm are rejected outright.
func (v *Verifier) Verify(raw string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return v.publicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &VerificationError{Err: err}
	}
	return claims, nil
}
