package main

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leolilley/ryeos/internal/trust"
)

const signingKeyPEMType = "RYE SIGNING KEY"

// buildSigner loads the process signing identity, per spec.md §6's
// RYE_SIGNING_KEY environment variable, falling back to a persisted
// local key under {USER_SPACE}/.ai/keys/signing_key.pem, generating one
// on first use.
func buildSigner(cmd *cobra.Command) (*trust.Signer, error) {
	projectPath, err := cmd.Flags().GetString("project-path")
	if err != nil {
		return nil, err
	}
	bundles, err := cmd.Flags().GetStringSlice("system-bundle")
	if err != nil {
		return nil, err
	}
	us, err := userSpace()
	if err != nil {
		return nil, err
	}

	store := trust.NewStore(trust.DefaultTiers(projectPath, us, bundles))

	priv, pub, err := loadOrCreateSigningKey(us)
	if err != nil {
		return nil, err
	}
	return trust.NewSigner(priv, pub, store)
}

func loadOrCreateSigningKey(us string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if pemStr := os.Getenv("RYE_SIGNING_KEY"); pemStr != "" {
		return decodeSigningKeyPEM([]byte(pemStr))
	}

	path := filepath.Join(us, ".ai", "keys", "signing_key.pem")
	if data, err := os.ReadFile(path); err == nil {
		return decodeSigningKeyPEM(data)
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("rye: read signing key %q: %w", path, err)
	}

	pub, priv, err := trust.GenerateKeypair()
	if err != nil {
		return nil, nil, fmt.Errorf("rye: generate signing key: %w", err)
	}
	if err := persistSigningKey(path, priv); err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func decodeSigningKeyPEM(data []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, fmt.Errorf("rye: invalid signing key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("rye: parse signing key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("rye: signing key is not Ed25519")
	}
	return priv, priv.Public().(ed25519.PublicKey), nil
}

func persistSigningKey(path string, priv ed25519.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("rye: create key directory: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("rye: marshal signing key: %w", err)
	}
	block := &pem.Block{Type: signingKeyPEMType, Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("rye: write signing key %q: %w", path, err)
	}
	return nil
}
