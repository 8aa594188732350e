package capability

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/leolilley/ryeos/pkg/models"
)

// Mint creates a new, unsigned capability token for a thread. Call Sign to
// produce the final signed token.
func Mint(caps []string, directiveID, threadID, parentID, aud string, ttl time.Duration) *models.CapabilityToken {
	sorted := append([]string(nil), caps...)
	sort.Strings(sorted)
	return &models.CapabilityToken{
		TokenID:     uuid.NewString(),
		Caps:        sorted,
		Aud:         aud,
		Exp:         time.Now().UTC().Add(ttl).Format(time.RFC3339),
		DirectiveID: directiveID,
		ThreadID:    threadID,
		ParentID:    parentID,
	}
}

// payloadForSigning returns the canonical JSON of every field except
// Signature, with Caps sorted, matching capability_tokens.py's
// get_payload_for_signing.
func payloadForSigning(t *models.CapabilityToken) ([]byte, error) {
	sorted := append([]string(nil), t.Caps...)
	sort.Strings(sorted)
	data := map[string]any{
		"token_id":     t.TokenID,
		"caps":         sorted,
		"aud":          t.Aud,
		"exp":          t.Exp,
		"parent_id":    t.ParentID,
		"directive_id": t.DirectiveID,
		"thread_id":    t.ThreadID,
	}
	return canonicalJSON(data)
}

// canonicalJSON marshals v with map keys sorted, matching Python's
// json.dumps(..., sort_keys=True) byte-for-byte for the flat string-keyed
// maps this package produces.
func canonicalJSON(v map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(v[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Sign signs the token's payload with the given Ed25519 private key,
// storing the base64url signature on the token.
func Sign(t *models.CapabilityToken, priv ed25519.PrivateKey) error {
	payload, err := payloadForSigning(t)
	if err != nil {
		return fmt.Errorf("capability: marshal token payload: %w", err)
	}
	sig := ed25519.Sign(priv, payload)
	t.Signature = base64.URLEncoding.EncodeToString(sig)
	return nil
}

// Verify checks the token's signature and expiry. It returns false if the
// token is expired, unsigned, or the signature does not verify against
// pub.
func Verify(t *models.CapabilityToken, pub ed25519.PublicKey) bool {
	if t.Signature == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, t.Exp)
	if err != nil || time.Now().UTC().After(exp) {
		return false
	}
	payload, err := payloadForSigning(t)
	if err != nil {
		return false
	}
	sig, err := base64.URLEncoding.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// ToJWT serializes a token to its base64url(json(sorted-keys)) wire form
// per spec.md §6.
func ToJWT(t *models.CapabilityToken) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	// Re-marshal through a map: encoding/json writes map keys sorted.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// FromJWT parses a token from its wire form.
func FromJWT(s string) (*models.CapabilityToken, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("capability: decode token: %w", err)
	}
	var t models.CapabilityToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("capability: unmarshal token: %w", err)
	}
	return &t, nil
}

// AttenuateToken derives a child token from a parent token and the caps the
// child directive declares, applying the fnmatch-narrowing Attenuate rule
// and inheriting the parent's expiry (spec.md §3).
func AttenuateToken(parent *models.CapabilityToken, childDeclaredCaps []string, childDirectiveID, childThreadID string) *models.CapabilityToken {
	attenuated := Attenuate(parent.Caps, childDeclaredCaps)
	sort.Strings(attenuated)
	return &models.CapabilityToken{
		TokenID:     uuid.NewString(),
		Caps:        attenuated,
		Aud:         parent.Aud,
		Exp:         parent.Exp,
		ParentID:    parent.TokenID,
		DirectiveID: childDirectiveID,
		ThreadID:    childThreadID,
	}
}
