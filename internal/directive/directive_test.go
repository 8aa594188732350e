package directive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leolilley/ryeos/internal/space"
)

func writeDirectiveFile(t *testing.T, root, itemID, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(itemID)+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func singleTier(t *testing.T) []space.Tier {
	t.Helper()
	dir := t.TempDir()
	return []space.Tier{{Name: "project", Root: dir, Mutable: true}}
}

func TestLoadWithFrontmatter(t *testing.T) {
	tiers := singleTier(t)
	writeDirectiveFile(t, tiers[0].Root, "greet/hello", `---
name: hello
category: greet
version: "1.0.0"
model:
  tier: small
inputs:
  - name: name
    type: string
    required: true
---
Say hi to {{name}}.
`)

	d, resolved, err := Load(tiers, "greet/hello")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Name != "hello" || d.Category != "greet" {
		t.Fatalf("unexpected metadata: %+v", d)
	}
	if d.Version != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %q", d.Version)
	}
	if len(d.Inputs) != 1 || d.Inputs[0].Name != "name" || !d.Inputs[0].Required {
		t.Fatalf("unexpected inputs: %+v", d.Inputs)
	}
	if d.Body != "Say hi to {{name}}." {
		t.Fatalf("unexpected body: %q", d.Body)
	}
	if resolved.Tier.Name != "project" {
		t.Fatalf("expected project tier, got %q", resolved.Tier.Name)
	}
}

func TestLoadBareBodyDefaultsMetadata(t *testing.T) {
	tiers := singleTier(t)
	writeDirectiveFile(t, tiers[0].Root, "say_hi", "Say hi.\n")

	d, _, err := Load(tiers, "say_hi")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Name != "say_hi" {
		t.Fatalf("expected default name say_hi, got %q", d.Name)
	}
	if d.Category != "." {
		t.Fatalf("expected default category '.', got %q", d.Category)
	}
	if d.Body != "Say hi." {
		t.Fatalf("unexpected body: %q", d.Body)
	}
	if len(d.Inputs) != 0 {
		t.Fatalf("expected no declared inputs, got %+v", d.Inputs)
	}
}

func TestLoadUnterminatedFrontmatterErrors(t *testing.T) {
	tiers := singleTier(t)
	writeDirectiveFile(t, tiers[0].Root, "broken", "---\nname: broken\n")

	if _, _, err := Load(tiers, "broken"); err == nil {
		t.Fatal("expected an error for an unterminated frontmatter block")
	}
}

func TestLoadMissingItemErrors(t *testing.T) {
	tiers := singleTier(t)
	if _, _, err := Load(tiers, "nope"); err == nil {
		t.Fatal("expected an error for a missing directive")
	}
}
