package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leolilley/ryeos/pkg/models"
)

// LockfileDir is where resolved chains are pinned, relative to a space
// root, mirroring the trusted_keys/tools layout convention.
const LockfileDir = ".ai/lockfiles"

// LockfilePath returns the on-disk path for a {tool_id, version} pair's
// lockfile under root.
func LockfilePath(root, toolID, version string) string {
	name := fmt.Sprintf("%s@%s.lock.json", filepath.FromSlash(toolID), version)
	return filepath.Join(root, LockfileDir, name)
}

// ReadLockfile loads an existing lockfile, or returns os.ErrNotExist if
// none is pinned yet for this {tool_id, version}.
func ReadLockfile(path string) (*models.Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf models.Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("chain: parse lockfile %q: %w", path, err)
	}
	return &lf, nil
}

// WriteLockfile atomically pins chain's resolved hashes for {tool_id,
// version}, replacing any previous lockfile for the same pair.
func WriteLockfile(path string, toolID, version string, chain []models.ChainLink) error {
	lf := models.Lockfile{ToolID: toolID, Version: version, Chain: chain}
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("chain: marshal lockfile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("chain: create lockfile dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("chain: write lockfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("chain: rename lockfile into place: %w", err)
	}
	return nil
}

// VerifyAgainstLockfile compares a freshly resolved chain's hashes to an
// existing lockfile for the same pair. A hash mismatch on any link is a
// hard failure: the on-disk tool has changed since it was pinned.
func VerifyAgainstLockfile(lf *models.Lockfile, chain []models.ChainLink) error {
	if len(lf.Chain) != len(chain) {
		return fmt.Errorf("%w: chain length changed (%d pinned, %d resolved)", ErrLockfileMismatch, len(lf.Chain), len(chain))
	}
	for i, link := range chain {
		pinned := lf.Chain[i]
		if pinned.ItemID != link.ItemID {
			return fmt.Errorf("%w: chain element %d is %q, pinned as %q", ErrLockfileMismatch, i, link.ItemID, pinned.ItemID)
		}
		if pinned.Hash != link.Hash {
			return fmt.Errorf("%w: %q content changed since it was pinned", ErrLockfileMismatch, link.ItemID)
		}
	}
	return nil
}

// Invalidate removes a pinned lockfile, used when signing a tool rewrites
// its signature line (and therefore its hash), per spec.md §4.3: "signing
// a tool atomically invalidates its lockfile." Absence of the file is
// not an error.
func Invalidate(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chain: invalidate lockfile %q: %w", path, err)
	}
	return nil
}
