package trust

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/leolilley/ryeos/pkg/models"
)

// Tier is one level of the three-tier space precedence.
type Tier struct {
	Name string // "project", "user", or the registered system bundle's name
	Path string // {space}/.ai/trusted_keys
	// Mutable reports whether this tier accepts writes (project and user
	// tiers do; system bundles are immutable).
	Mutable bool
}

// Store resolves trusted keys across project -> user -> system tiers,
// first match wins, with TOFU pinning for registry-sourced keys.
type Store struct {
	mu    sync.RWMutex
	tiers []Tier
	cache map[string]ed25519.PublicKey
	log   *slog.Logger
}

// NewStore builds a trust store over the given tiers, ordered
// project -> user -> system (the caller supplies them in that order).
func NewStore(tiers []Tier) *Store {
	return &Store{
		tiers: tiers,
		cache: make(map[string]ed25519.PublicKey),
		log:   slog.Default().With("component", "trust.store"),
	}
}

// Lookup resolves a fingerprint to its public key, walking tiers in
// precedence order. The first tier with a matching {fp}.toml wins.
func (s *Store) Lookup(fp string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	if pub, ok := s.cache[fp]; ok {
		s.mu.RUnlock()
		return pub, nil
	}
	s.mu.RUnlock()

	for _, tier := range s.tiers {
		path := filepath.Join(tier.Path, fp+".toml")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var tk models.TrustedKey
		if err := toml.Unmarshal(data, &tk); err != nil {
			s.log.Warn("malformed trusted key file", "path", path, "error", err)
			continue
		}
		pub, err := decodePublicKeyPEM(tk.PublicKeyPEM)
		if err != nil {
			s.log.Warn("invalid public key in trusted key file", "path", path, "error", err)
			continue
		}
		s.mu.Lock()
		s.cache[fp] = pub
		s.mu.Unlock()
		return pub, nil
	}
	return nil, fmt.Errorf("trust: no trusted key found for fingerprint %s", fp)
}

// EnsureLocalKey adds pub to the first mutable (user) tier with owner
// "local", if not already present. Called once when a Signer is
// constructed, per spec.md §4.1's "on first local signing" rule.
func (s *Store) EnsureLocalKey(fp string, pub ed25519.PublicKey) error {
	if _, err := s.Lookup(fp); err == nil {
		return nil
	}
	return s.Pin(fp, pub, "local")
}

// Pin writes a new trusted-key file to the first mutable tier (TOFU for
// registry keys: the caller checks whether fp is already pinned with a
// different owner before calling Pin again for the same fp — a mismatch
// there is the caller's signal to fail verification rather than re-pin).
func (s *Store) Pin(fp string, pub ed25519.PublicKey, owner string) error {
	var tier *Tier
	for i := range s.tiers {
		if s.tiers[i].Mutable {
			tier = &s.tiers[i]
			break
		}
	}
	if tier == nil {
		return fmt.Errorf("trust: no mutable tier available to pin key")
	}

	pemBytes, err := encodePublicKeyPEM(pub)
	if err != nil {
		return err
	}
	tk := models.TrustedKey{
		Fingerprint:  fp,
		Owner:        owner,
		PublicKeyPEM: pemBytes,
	}
	data, err := toml.Marshal(tk)
	if err != nil {
		return fmt.Errorf("trust: marshal trusted key: %w", err)
	}

	if err := os.MkdirAll(tier.Path, 0o755); err != nil {
		return fmt.Errorf("trust: create trust tier dir: %w", err)
	}
	tmp := filepath.Join(tier.Path, fp+".toml.tmp")
	final := filepath.Join(tier.Path, fp+".toml")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("trust: write trusted key: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("trust: rename trusted key into place: %w", err)
	}

	s.mu.Lock()
	s.cache[fp] = pub
	s.mu.Unlock()
	s.log.Debug("pinned trusted key", "fingerprint", fp, "owner", owner)
	return nil
}

// PinRegistryKey implements TOFU for registry-sourced keys: the first key
// seen for a given registry name is pinned as a normal trusted key owned
// by that registry; subsequent calls with a different key for a name
// already pinned are rejected.
func (s *Store) PinRegistryKey(fp string, pub ed25519.PublicKey, registryName string) error {
	existing, err := s.Lookup(fp)
	if err == nil {
		if existing.Equal(pub) {
			return nil
		}
		return fmt.Errorf("trust: TOFU mismatch for registry %q fingerprint %s", registryName, fp)
	}
	return s.Pin(fp, pub, registryName)
}

func encodePublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("trust: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func decodePublicKeyPEM(s string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("trust: invalid PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("trust: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("trust: not an Ed25519 public key")
	}
	return pub, nil
}

// DefaultTiers builds the standard project -> user -> system tier list for
// a given project root and user space, plus any registered system
// bundles.
func DefaultTiers(projectRoot, userSpace string, systemBundles []string) []Tier {
	tiers := []Tier{
		{Name: "project", Path: filepath.Join(projectRoot, ".ai", "trusted_keys"), Mutable: true},
		{Name: "user", Path: filepath.Join(userSpace, ".ai", "trusted_keys"), Mutable: true},
	}
	for _, bundle := range systemBundles {
		tiers = append(tiers, Tier{Name: bundle, Path: filepath.Join(bundle, ".ai", "trusted_keys"), Mutable: false})
	}
	return tiers
}
