package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leolilley/ryeos/internal/space"
)

// searchExtensions is the default set of on-disk extensions walked for
// a given item type scope, matching the chain resolver's tool
// extensions and the signature-format conventions of §6 for the rest.
var searchExtensions = map[string][]string{
	"tools":        {".toml", ".tool.toml"},
	"directives":   {".md"},
	"knowledge":    {".md", ".txt"},
	"config":       {".yaml", ".yml", ".json"},
	"trusted_keys": {".toml"},
}

func extensionsFor(itemType string) []string {
	if ext, ok := searchExtensions[itemType]; ok {
		return ext
	}
	return []string{".md", ".toml", ".json", ".yaml", ".txt"}
}

type searchHit struct {
	ItemID string `json:"item_id"`
	Tier   string `json:"tier"`
	Path   string `json:"path"`
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <scope> <query>",
		Short: "search item ids under a scope's three-tier space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, query := args[0], args[1]
			log := newLogger("cmd.search")

			tiers, err := tiersFor(cmd, scope)
			if err != nil {
				return emitError(err)
			}
			exts := extensionsFor(scope)

			log.Info("searching", "scope", scope, "query", query)
			var hits []searchHit
			seen := make(map[string]bool)
			for _, tier := range tiers {
				found, err := searchTier(tier, exts, query)
				if err != nil {
					return emitError(fmt.Errorf("rye: search %q: %w", tier.Root, err))
				}
				for _, h := range found {
					if seen[h.ItemID] {
						continue
					}
					seen[h.ItemID] = true
					hits = append(hits, h)
				}
			}
			return emitResult(map[string]any{"success": true, "scope": scope, "query": query, "results": hits})
		},
	}
	return cmd
}

func searchTier(tier space.Tier, extensions []string, query string) ([]searchHit, error) {
	var hits []searchHit
	err := filepath.WalkDir(tier.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := matchExtension(path, extensions)
		if ext == "" {
			return nil
		}
		rel, err := filepath.Rel(tier.Root, path)
		if err != nil {
			return err
		}
		itemID := filepath.ToSlash(strings.TrimSuffix(rel, ext))
		if query != "" && !strings.Contains(strings.ToLower(itemID), strings.ToLower(query)) {
			return nil
		}
		hits = append(hits, searchHit{ItemID: itemID, Tier: tier.Name, Path: path})
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return hits, nil
}

func matchExtension(path string, extensions []string) string {
	for _, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ""
}
