// Package trust implements the signing and trust fabric of spec.md §4.1
// and §6: Ed25519 keypair lifecycle, content-hash signing embedded
// per-filetype, and three-tier (project -> user -> system) trust
// resolution with TOFU registry-key pinning. Grounded on
// internal/marketplace's verification.go from the teacher, generalized
// from plugin-artifact verification to the broader durable-artifact
// signing contract this spec requires.
package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Issue enumerates the ways verification can fail, per spec.md §4.1.
type Issue string

const (
	IssueUnsigned         Issue = "unsigned"
	IssueHashMismatch     Issue = "hash_mismatch"
	IssueSignatureInvalid Issue = "signature_invalid"
	IssueUntrustedKey     Issue = "untrusted_key"
	IssueExpiredTimestamp Issue = "expired_timestamp"
)

// Result is the outcome of Verify.
type Result struct {
	Valid              bool
	Issues             []Issue
	RegistryProvenance string // "provider@username" if the signature line carried one
}

// Signer holds the process-wide Ed25519 identity used to produce
// signatures, plus the trust store consulted to verify them.
type Signer struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	fp     string
	store  *Store
	logger *slog.Logger
}

// NewSigner wraps a keypair with the trust store used for verification.
// On first use, the public key is auto-added to the user tier of store
// with owner "local" (spec.md §4.1).
func NewSigner(priv ed25519.PrivateKey, pub ed25519.PublicKey, store *Store) (*Signer, error) {
	fp := ComputeFingerprint(pub)
	s := &Signer{
		priv:   priv,
		pub:    pub,
		fp:     fp,
		store:  store,
		logger: slog.Default().With("component", "trust.signer"),
	}
	if store != nil {
		if err := store.EnsureLocalKey(fp, pub); err != nil {
			return nil, fmt.Errorf("trust: register local key: %w", err)
		}
	}
	return s, nil
}

// GenerateKeypair creates a fresh Ed25519 identity.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("trust: generate keypair: %w", err)
	}
	return pub, priv, nil
}

// ComputeFingerprint returns the 16-lowercase-hex-char id for a public key:
// SHA-256 of the raw key bytes, first 8 bytes hex-encoded.
func ComputeFingerprint(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:8])
}

// Fingerprint returns this signer's own key fingerprint.
func (s *Signer) Fingerprint() string { return s.fp }

// PublicKey returns this signer's public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// signLine builds the "rye:signed:TS:HASH:SIG:FP[|provider@username]" line
// for a content hash, per spec.md §6.
func (s *Signer) signLine(contentHash [32]byte, provenance string) string {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	hash := hex.EncodeToString(contentHash[:])
	sig := ed25519.Sign(s.priv, contentHash[:])
	sigStr := base64.URLEncoding.EncodeToString(sig)
	line := fmt.Sprintf("rye:signed:%s:%s:%s:%s", ts, hash, sigStr, s.fp)
	if provenance != "" {
		line += "|" + provenance
	}
	return line
}

// SignHash signs a precomputed SHA-256 hash directly, returning the
// base64url signature and this signer's fingerprint. Used by the
// transcript checkpoint writer, which signs a byte-range hash rather
// than an embeddable file body.
func (s *Signer) SignHash(hash [32]byte) (sigB64, fingerprint string) {
	sig := ed25519.Sign(s.priv, hash[:])
	return base64.URLEncoding.EncodeToString(sig), s.fp
}

// VerifyHash checks a base64url signature against a precomputed hash,
// resolving fingerprint through the trust store the same way Verify does.
func (s *Signer) VerifyHash(hash [32]byte, sigB64, fingerprint string) *Result {
	pub, err := s.store.Lookup(fingerprint)
	if err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueUntrustedKey}}
	}
	sig, err := base64.URLEncoding.DecodeString(sigB64)
	if err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueSignatureInvalid}}
	}
	if !ed25519.Verify(pub, hash[:], sig) {
		return &Result{Valid: false, Issues: []Issue{IssueSignatureInvalid}}
	}
	return &Result{Valid: true}
}

// Sign strips any existing signature from content (idempotent re-signing),
// computes the content hash, and embeds a fresh signature line using the
// format appropriate to kind.
func (s *Signer) Sign(kind FileKind, content []byte, provenance string) ([]byte, error) {
	stripped := Strip(kind, content)
	hash := sha256.Sum256(stripped)
	line := s.signLine(hash, provenance)
	return Embed(kind, stripped, line)
}

// Verify parses the embedded signature line (if any), recomputes the
// content hash over the stripped body, and checks the signature against
// the trust store's resolution order (project -> user -> system, first
// match wins).
func (s *Signer) Verify(kind FileKind, content []byte) *Result {
	line, body, ok := ExtractLine(kind, content)
	if !ok {
		return &Result{Valid: false, Issues: []Issue{IssueUnsigned}}
	}
	ts, hashHex, sigB64, fp, provenance, err := ParseLine(line)
	if err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueSignatureInvalid}}
	}

	gotHash := sha256.Sum256(body)
	if hex.EncodeToString(gotHash[:]) != hashHex {
		return &Result{Valid: false, Issues: []Issue{IssueHashMismatch}}
	}

	pub, err := s.store.Lookup(fp)
	if err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueUntrustedKey}}
	}

	sig, err := base64.URLEncoding.DecodeString(sigB64)
	if err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueSignatureInvalid}}
	}
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil || !ed25519.Verify(pub, hashBytes, sig) {
		return &Result{Valid: false, Issues: []Issue{IssueSignatureInvalid}}
	}

	if _, err := time.Parse("2006-01-02T15:04:05Z", ts); err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueExpiredTimestamp}}
	}

	return &Result{Valid: true, RegistryProvenance: provenance}
}

// VerifyTimeBounded additionally fails artifacts whose timestamp is older
// than maxAge (used for time-bounded artifacts like capability tokens).
func (s *Signer) VerifyTimeBounded(kind FileKind, content []byte, maxAge time.Duration) *Result {
	res := s.Verify(kind, content)
	if !res.Valid {
		return res
	}
	line, _, _ := ExtractLine(kind, content)
	ts, _, _, _, _, err := ParseLine(line)
	if err != nil {
		return &Result{Valid: false, Issues: []Issue{IssueSignatureInvalid}}
	}
	signedAt, err := time.Parse("2006-01-02T15:04:05Z", ts)
	if err != nil || time.Since(signedAt) > maxAge {
		return &Result{Valid: false, Issues: []Issue{IssueExpiredTimestamp}}
	}
	return res
}

// ParseLine splits a "rye:signed:TS:HASH:SIG:FP[|provider@username]" line
// into its components.
func ParseLine(line string) (ts, hash, sig, fp, provenance string, err error) {
	body := strings.TrimPrefix(line, "rye:signed:")
	if body == line {
		return "", "", "", "", "", fmt.Errorf("trust: not a signature line")
	}
	var tail string
	if idx := strings.Index(body, "|"); idx >= 0 {
		tail = body[idx+1:]
		body = body[:idx]
	}
	parts := strings.SplitN(body, ":", 4)
	if len(parts) != 4 {
		return "", "", "", "", "", fmt.Errorf("trust: malformed signature line")
	}
	return parts[0], parts[1], parts[2], parts[3], tail, nil
}
