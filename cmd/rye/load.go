package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leolilley/ryeos/internal/space"
	"github.com/leolilley/ryeos/internal/trust"
)

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <item-type> <item-id>",
		Short: "resolve and load an item's content through the three-tier space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemType, itemID := args[0], args[1]
			log := newLogger("cmd.load")

			tiers, err := tiersFor(cmd, itemType)
			if err != nil {
				return emitError(err)
			}

			log.Info("loading", "item_type", itemType, "item_id", itemID)
			resolved, err := space.Resolve(tiers, itemID, extensionsFor(itemType))
			if err != nil {
				return emitError(fmt.Errorf("rye: load %s/%s: %w", itemType, itemID, err))
			}
			content, err := os.ReadFile(resolved.Path)
			if err != nil {
				return emitError(fmt.Errorf("rye: read %q: %w", resolved.Path, err))
			}

			kind := kindForPath(resolved.Path)
			if _, _, signed := trust.ExtractLine(kind, content); signed {
				signer, err := buildSigner(cmd)
				if err != nil {
					return emitError(err)
				}
				if res := signer.Verify(kind, content); !res.Valid {
					return emitError(fmt.Errorf("rye: load %s/%s: Integrity check failed: %v", itemType, itemID, res.Issues))
				}
			}

			return emitResult(map[string]any{
				"success": true,
				"item_id": itemID,
				"tier":    resolved.Tier.Name,
				"path":    resolved.Path,
				"content": string(content),
			})
		},
	}
	return cmd
}
