// Package space implements the three-tier item resolution shared by
// every item kind spec.md names (directives, tools, knowledge, trust,
// config, lockfiles): project -> user -> system bundles, first match
// wins, with only project and user tiers accepting writes.
package space

import (
	"fmt"
	"os"
	"path/filepath"
)

// Tier is one level of the three-tier precedence, scoped to a single
// item type's directory under a space root (e.g. "{root}/.ai/tools").
type Tier struct {
	Name    string // "project", "user", or a registered system bundle's name
	Root    string // the item-type directory itself, not the bare space root
	Mutable bool
}

// DefaultTiers builds the standard project -> user -> system tier list
// for a given item type ("tools", "directives", "knowledge", ...).
func DefaultTiers(itemType, projectRoot, userSpace string, systemBundles []string) []Tier {
	tiers := []Tier{
		{Name: "project", Root: filepath.Join(projectRoot, ".ai", itemType), Mutable: true},
		{Name: "user", Root: filepath.Join(userSpace, ".ai", itemType), Mutable: true},
	}
	for _, bundle := range systemBundles {
		tiers = append(tiers, Tier{Name: bundle, Root: filepath.Join(bundle, ".ai", itemType), Mutable: false})
	}
	return tiers
}

// Precedence ranks a tier name for space-compatibility checks: lower is
// higher precedence. Any name other than "project" or "user" (a
// registered system bundle) ranks below "user", equal to every other
// system bundle.
func Precedence(name string) int {
	switch name {
	case "project":
		return 0
	case "user":
		return 1
	default:
		return 2
	}
}

// Resolved is the result of locating an item: which tier it was found
// in, and its full path on disk.
type Resolved struct {
	Tier Tier
	Path string
}

// Resolve finds itemID (a relative path without extension) under the
// given tiers, trying each of extensions in order within each tier
// before moving to the next tier. Item ids use forward slashes
// regardless of OS.
func Resolve(tiers []Tier, itemID string, extensions []string) (*Resolved, error) {
	rel := filepath.FromSlash(itemID)
	for _, tier := range tiers {
		for _, ext := range extensions {
			path := filepath.Join(tier.Root, rel+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return &Resolved{Tier: tier, Path: path}, nil
			}
		}
	}
	return nil, fmt.Errorf("space: item %q not found in any tier", itemID)
}

// FirstMutable returns the first writable tier, used for writes to the
// project/user space (the system tier is always immutable).
func FirstMutable(tiers []Tier) (*Tier, error) {
	for i := range tiers {
		if tiers[i].Mutable {
			return &tiers[i], nil
		}
	}
	return nil, fmt.Errorf("space: no mutable tier available")
}
