package chain

import (
	"os"

	"github.com/leolilley/ryeos/internal/space"
	"github.com/leolilley/ryeos/pkg/models"
)

// Result is the outcome of a full resolve-validate-lock cycle.
type Result struct {
	Chain    []models.ChainLink
	Warnings []ValidationWarning
}

// ResolveAndValidate resolves itemID's delegation chain, validates it,
// and reconciles it against any existing lockfile under lockfileRoot:
// absent a lockfile, one is written; present, a hash mismatch is a hard
// failure.
func (r *Resolver) ResolveAndValidate(itemID, lockfileRoot string) (*Result, error) {
	chain, err := r.Resolve(itemID)
	if err != nil {
		return nil, err
	}
	warnings, err := Validate(chain)
	if err != nil {
		return nil, err
	}

	version := chain[0].Meta.Version
	path := LockfilePath(lockfileRoot, itemID, version)
	existing, err := ReadLockfile(path)
	switch {
	case err == nil:
		if verr := VerifyAgainstLockfile(existing, chain); verr != nil {
			return nil, verr
		}
	case os.IsNotExist(err):
		if werr := WriteLockfile(path, itemID, version, chain); werr != nil {
			return nil, werr
		}
	default:
		return nil, err
	}

	return &Result{Chain: chain, Warnings: warnings}, nil
}

// Tiers exposes the resolver's configured tiers, for callers (the
// primitive executor) that need the same precedence list for other
// item-type lookups like env_config resolution.
func (r *Resolver) Tiers() []space.Tier {
	return r.tiers
}
