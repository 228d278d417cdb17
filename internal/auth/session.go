// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("auth: invalid host token")

// Signer mints and verifies host tokens. A host token is an EdDSA-signed JWT whose
// "sub" is the host id and whose "lobby" claim is the lobby code it grants control of.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner generates a fresh ed25519 key pair at runtime.
// Tokens minted by it do not survive a restart.
func NewSigner() (*Signer, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Signer{privateKey: privateKey, publicKey: publicKey}, nil
}

// NewSignerFromPath reads raw ed25519 private/public keys from file.
func NewSignerFromPath(privatePath, publicPath string) (*Signer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected ed25519 key sizes: private=%d public=%d", len(privateKeyData), len(publicKeyData))
	}
	return &Signer{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
	}, nil
}

// CreateHostToken signs a token for hostID over the lobby code.
// No exp claim: the lobby's own expiry bounds the token's usefulness.
func (s *Signer) CreateHostToken(code, hostID string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   hostID,
		"lobby": code,
		"jti":   rand.Text(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.privateKey)
}

// VerifyHostToken checks the signature and returns the host id and lobby code it carries.
func (s *Signer) VerifyHostToken(tokenString string) (hostID, code string, err error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return "", "", ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("%w: invalid jwt claims", ErrInvalidToken)
	}
	hostID, ok = claims["sub"].(string)
	if !ok {
		return "", "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	code, ok = claims["lobby"].(string)
	if !ok {
		return "", "", fmt.Errorf("%w: missing lobby", ErrInvalidToken)
	}
	return hostID, code, nil
}
