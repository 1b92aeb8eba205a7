// Package auth implements optional bearer-token verification for the observer
// gateway handshake, supporting RS256 (PEM public key) and HS256 (shared
// secret) tokens.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, malformed, or invalid tokens.
var ErrUnauthorized = errors.New("UNAUTHORIZED")

// Config holds verification settings.
type Config struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string
	// SecretKey is the HS256 shared secret.
	SecretKey string
	// PublicKeyPEM is the RS256 verification key in PEM form.
	PublicKeyPEM string
}

// Verifier validates bearer tokens presented on HTTP requests.
type Verifier struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier for the configured algorithm.
func NewVerifier(cfg Config) (*Verifier, error) {
	switch cfg.Algorithm {
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires a secret key")
		}
		return &Verifier{algorithm: cfg.Algorithm, secret: []byte(cfg.SecretKey)}, nil
	case "RS256":
		key, err := parsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load RS256 public key: %w", err)
		}
		return &Verifier{algorithm: cfg.Algorithm, publicKey: key}, nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", cfg.Algorithm)
}

// Authorize checks the Authorization header of a request. It satisfies the
// observer gateway's Authorizer contract.
func (v *Verifier) Authorize(r *http.Request) error {
	token, err := extractBearerToken(r)
	if err != nil {
		return err
	}
	return v.Verify(token)
}

// Verify validates a raw token string.
func (v *Verifier) Verify(tokenString string) error {
	token, err := jwt.Parse(tokenString, v.keyFunc,
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: token invalid", ErrUnauthorized)
	}
	return nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	switch v.algorithm {
	case "HS256":
		return v.secret, nil
	case "RS256":
		return v.publicKey, nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", v.algorithm)
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// Browsers cannot set headers on WebSocket upgrades; accept the
		// token as a query parameter there.
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("%w: missing authorization", ErrUnauthorized)
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrUnauthorized)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrUnauthorized)
	}
	return token, nil
}

func parsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("PEM block is not an RSA public key")
		}
		return rsaKey, nil
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("PEM block is neither a public key nor a certificate: %w", err)
	}
	rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not carry an RSA public key")
	}
	return rsaKey, nil
}
