package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leolilley/ryeos/internal/space"
	"github.com/leolilley/ryeos/internal/trust"
)

func newSignCmd() *cobra.Command {
	var provenance string

	cmd := &cobra.Command{
		Use:   "sign <item-type> <item-id>",
		Short: "re-embed a fresh signature line over an item's content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemType, itemID := args[0], args[1]
			log := newLogger("cmd.sign")

			tiers, err := tiersFor(cmd, itemType)
			if err != nil {
				return emitError(err)
			}
			resolved, err := space.Resolve(tiers, itemID, extensionsFor(itemType))
			if err != nil {
				return emitError(fmt.Errorf("rye: sign %s/%s: %w", itemType, itemID, err))
			}
			if !resolved.Tier.Mutable {
				return emitError(fmt.Errorf("rye: %q resolves to immutable tier %q, cannot sign", itemID, resolved.Tier.Name))
			}

			signer, err := buildSigner(cmd)
			if err != nil {
				return emitError(err)
			}

			content, err := os.ReadFile(resolved.Path)
			if err != nil {
				return emitError(fmt.Errorf("rye: read %q: %w", resolved.Path, err))
			}

			kind := kindForPath(resolved.Path)
			log.Info("signing", "item_id", itemID, "path", resolved.Path)
			signed, err := signer.Sign(kind, content, provenance)
			if err != nil {
				return emitError(fmt.Errorf("rye: sign %q: %w", resolved.Path, err))
			}
			if err := os.WriteFile(resolved.Path, signed, 0o644); err != nil {
				return emitError(fmt.Errorf("rye: write %q: %w", resolved.Path, err))
			}

			return emitResult(map[string]any{
				"success":     true,
				"item_id":     itemID,
				"path":        resolved.Path,
				"fingerprint": signer.Fingerprint(),
			})
		},
	}

	cmd.Flags().StringVar(&provenance, "provenance", "", "optional provider@username registry provenance claim")
	return cmd
}

// kindForPath picks the signature-embedding convention for a file
// extension, per spec.md §6's per-filetype signature line formats.
func kindForPath(path string) trust.FileKind {
	switch ext := filepath.Ext(path); ext {
	case ".json":
		return trust.KindJSON
	case ".toml":
		return trust.KindTOML
	case ".md", ".markdown", ".html":
		return trust.KindMarkdown
	default:
		if strings.HasPrefix(ext, ".") {
			return trust.KindCode
		}
		return trust.KindMarkdown
	}
}
