// Package kms provides the Ed25519 signing port used to authorize releases.
package kms

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKey      = errors.New("kms: unknown key id")
	ErrUnknownProvider = errors.New("kms: unknown provider")
)

// Signer signs canonical payload bytes and verifies signatures by key id.
type Signer interface {
	KeyID() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	Verify(ctx context.Context, kid string, payload, signature []byte) (bool, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string // "local" or "mock"
	KeyID    string
	Seed     string            // base64 32-byte Ed25519 seed, required for "local"
	Verify   map[string]string // kid -> base64 public key of retired keys
}

// New builds the configured signer once at process start.
func New(cfg Config) (Signer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "mock", "":
		return NewMockSigner(), nil
	case "local":
		seed, err := base64.StdEncoding.DecodeString(cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("kms: decode seed: %w", err)
		}
		retired := make(map[string]ed25519.PublicKey, len(cfg.Verify))
		for kid, b64 := range cfg.Verify {
			pub, err := base64.StdEncoding.DecodeString(b64)
			if err != nil || len(pub) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("kms: invalid verification key %q", kid)
			}
			retired[kid] = ed25519.PublicKey(pub)
		}
		return NewEd25519Signer(cfg.KeyID, seed, retired)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// Ed25519Signer holds one active signing key plus retired verification keys.
type Ed25519Signer struct {
	kid       string
	private   ed25519.PrivateKey
	verifiers map[string]ed25519.PublicKey
}

// NewEd25519Signer derives the key pair from a 32-byte seed.
func NewEd25519Signer(kid string, seed []byte, retired map[string]ed25519.PublicKey) (*Ed25519Signer, error) {
	if strings.TrimSpace(kid) == "" {
		return nil, errors.New("kms: key id is required")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("kms: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	verifiers := map[string]ed25519.PublicKey{kid: priv.Public().(ed25519.PublicKey)}
	for k, pub := range retired {
		if k == kid {
			continue
		}
		verifiers[k] = pub
	}
	return &Ed25519Signer{kid: kid, private: priv, verifiers: verifiers}, nil
}

// NewMockSigner returns a deterministic development key. Never use it in production.
func NewMockSigner() *Ed25519Signer {
	seed := sha256.Sum256([]byte("owa-release-mock-kms"))
	s, _ := NewEd25519Signer("mock-dev", seed[:], nil)
	return s
}

func (s *Ed25519Signer) KeyID() string { return s.kid }

// PublicKey returns the active verification key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.verifiers[s.kid]
}

func (s *Ed25519Signer) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("kms sign: %w", err)
	}
	return ed25519.Sign(s.private, payload), nil
}

func (s *Ed25519Signer) Verify(ctx context.Context, kid string, payload, signature []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("kms verify: %w", err)
	}
	pub, ok := s.verifiers[kid]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return ed25519.Verify(pub, payload, signature), nil
}
