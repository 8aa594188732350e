// Package chain implements the delegation-chain resolver and validator
// of spec.md §4.3: parsing tool metadata, walking executor_id links
// down to a primitive, and validating the resulting chain for space
// precedence, I/O compatibility, and semver constraints before it is
// pinned to a lockfile.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/leolilley/ryeos/internal/space"
	"github.com/leolilley/ryeos/pkg/models"
)

// metadataExtensions lists the extensions tried, in order, for a tool
// metadata file under any given tier.
var metadataExtensions = []string{".toml", ".tool.toml"}

// Resolver resolves tool ids into delegation chains across the
// project/user/system tiers.
type Resolver struct {
	tiers []space.Tier
}

// NewResolver builds a resolver over the standard tool-type tiers.
func NewResolver(projectRoot, userSpace string, systemBundles []string) *Resolver {
	return &Resolver{tiers: space.DefaultTiers("tools", projectRoot, userSpace, systemBundles)}
}

// NewResolverWithTiers builds a resolver over caller-supplied tiers,
// for tests or non-default layouts.
func NewResolverWithTiers(tiers []space.Tier) *Resolver {
	return &Resolver{tiers: tiers}
}

// Resolve builds the ordered chain [tool, runtime, ..., primitive] for
// itemID: the metadata file is located via tier precedence; if it
// declares a non-empty executor_id, that id is resolved recursively and
// prepended to the result.
func (r *Resolver) Resolve(itemID string) ([]models.ChainLink, error) {
	return r.resolve(itemID, make(map[string]bool))
}

func (r *Resolver) resolve(itemID string, seen map[string]bool) ([]models.ChainLink, error) {
	if seen[itemID] {
		return nil, fmt.Errorf("chain: cycle detected resolving %q", itemID)
	}
	seen[itemID] = true

	resolved, err := space.Resolve(r.tiers, itemID, metadataExtensions)
	if err != nil {
		return nil, fmt.Errorf("chain: resolve %q: %w", itemID, err)
	}
	data, err := os.ReadFile(resolved.Path)
	if err != nil {
		return nil, fmt.Errorf("chain: read %q: %w", resolved.Path, err)
	}
	var meta models.ToolMetadata
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("chain: parse metadata %q: %w", resolved.Path, err)
	}
	meta.ID = itemID

	link := models.ChainLink{
		ItemID: itemID,
		Tier:   resolved.Tier.Name,
		Path:   resolved.Path,
		Hash:   hashContent(data),
		Meta:   meta,
	}

	if meta.ExecutorID == "" {
		// Primitive: terminates the chain.
		return []models.ChainLink{link}, nil
	}

	parentChain, err := r.resolve(meta.ExecutorID, seen)
	if err != nil {
		return nil, err
	}
	return append([]models.ChainLink{link}, parentChain...), nil
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
