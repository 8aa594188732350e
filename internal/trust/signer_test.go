package trust

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestSigner(t *testing.T) (*Signer, *Store) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore([]Tier{{Name: "user", Path: filepath.Join(dir, "keys"), Mutable: true}})
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	signer, err := NewSigner(priv, pub, store)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer, store
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, _ := newTestSigner(t)

	signed, err := signer.Sign(KindMarkdown, []byte("# hello\nbody text\n"), "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	res := signer.Verify(KindMarkdown, signed)
	if !res.Valid {
		t.Fatalf("expected valid signature, got issues=%v", res.Issues)
	}
}

func TestVerifyTamperDetection(t *testing.T) {
	signer, _ := newTestSigner(t)

	signed, err := signer.Sign(KindMarkdown, []byte("# hello\nbody text\n"), "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := []byte(string(signed))
	// flip a byte in the body, well after the signature line
	idx := len(tampered) - 1
	tampered[idx] = tampered[idx] ^ 0xFF

	res := signer.Verify(KindMarkdown, tampered)
	if res.Valid {
		t.Fatalf("expected tampered content to fail verification")
	}
}

func TestSignIdempotentReSign(t *testing.T) {
	signer, _ := newTestSigner(t)

	once, err := signer.Sign(KindMarkdown, []byte("content\n"), "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	twice, err := signer.Sign(KindMarkdown, once, "")
	if err != nil {
		t.Fatalf("re-sign: %v", err)
	}

	res := signer.Verify(KindMarkdown, twice)
	if !res.Valid {
		t.Fatalf("re-signed content should verify, issues=%v", res.Issues)
	}
	// must not have nested signature-lines
	_, body, ok := ExtractLine(KindMarkdown, twice)
	if !ok {
		t.Fatalf("expected a signature line")
	}
	if _, _, ok2 := ExtractLine(KindMarkdown, body); ok2 {
		t.Fatalf("re-signing should not leave a nested signature line")
	}
}

func TestJSONSignature(t *testing.T) {
	signer, _ := newTestSigner(t)

	doc := []byte(`{"name":"x","value":1}`)
	signed, err := signer.Sign(KindJSON, doc, "")
	if err != nil {
		t.Fatalf("sign json: %v", err)
	}
	res := signer.Verify(KindJSON, signed)
	if !res.Valid {
		t.Fatalf("expected valid json signature, issues=%v", res.Issues)
	}
}

func TestUntrustedKeyFails(t *testing.T) {
	signer, _ := newTestSigner(t)
	signed, err := signer.Sign(KindMarkdown, []byte("x\n"), "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// A different store with no pinned keys must reject it.
	otherStore := NewStore([]Tier{{Name: "user", Path: t.TempDir(), Mutable: true}})
	otherSigner := &Signer{priv: signer.priv, pub: signer.pub, fp: signer.fp, store: otherStore, logger: signer.logger}
	res := otherSigner.Verify(KindMarkdown, signed)
	if res.Valid {
		t.Fatalf("expected untrusted key to fail verification")
	}
	if len(res.Issues) == 0 || res.Issues[0] != IssueUntrustedKey {
		t.Fatalf("expected untrusted_key issue, got %v", res.Issues)
	}
}

func TestEnsureLocalKeyWritesUserTier(t *testing.T) {
	dir := t.TempDir()
	store := NewStore([]Tier{{Name: "user", Path: filepath.Join(dir, "keys"), Mutable: true}})
	pub, priv, _ := GenerateKeypair()
	signer, err := NewSigner(priv, pub, store)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	path := filepath.Join(dir, "keys", signer.Fingerprint()+".toml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected local key file at %s: %v", path, err)
	}
}
