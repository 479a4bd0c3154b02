// internal/auth/session.go

// Package auth issues and verifies the bearer tokens that identify every
// HTTP action and websocket connection, and hashes account passwords.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agus-marmor/typeclash/internal/errs"
)

// Identity is the verified caller extracted from a token.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// Service signs and verifies ed25519 JWTs. Construct once per process and
// inject; there is no package-level key state.
type Service struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expire     time.Duration // 0 means tokens never expire
}

// NewService generates a fresh ed25519 key pair. Tokens signed by a previous
// process die with it, which is fine for a game session service.
func NewService(expire time.Duration) (*Service, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return &Service{privateKey: priv, publicKey: pub, expire: expire}, nil
}

// NewServiceFromPath loads an ed25519 key pair from PEM-less raw key files,
// for deployments that need tokens to survive restarts.
func NewServiceFromPath(privatePath, publicPath string, expire time.Duration) (*Service, error) {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return &Service{
		privateKey: ed25519.PrivateKey(priv),
		publicKey:  ed25519.PublicKey(pub),
		expire:     expire,
	}, nil
}

// CreateToken signs a JWT carrying the user id as "sub" and the username as
// "name".
func (s *Service) CreateToken(id Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":  id.UserID.String(),
		"name": id.Username,
	}
	if s.expire > 0 {
		claims["exp"] = time.Now().Add(s.expire).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.privateKey)
}

// Verify parses and validates a token string, returning the caller identity.
// All failure modes map to KindAuth.
func (s *Service) Verify(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindAuth, "invalid token", err)
	}
	if !t.Valid {
		return Identity{}, errs.New(errs.KindAuth, "invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errs.New(errs.KindAuth, "invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return Identity{}, errs.New(errs.KindAuth, "token missing sub")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindAuth, "malformed user id in token", err)
	}
	name, _ := claims["name"].(string)

	return Identity{UserID: userID, Username: name}, nil
}
