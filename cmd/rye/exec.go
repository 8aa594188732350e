package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/leolilley/ryeos/internal/chain"
	"github.com/leolilley/ryeos/internal/directive"
	"github.com/leolilley/ryeos/internal/dispatch"
	"github.com/leolilley/ryeos/internal/executor"
	"github.com/leolilley/ryeos/internal/primitives"
)

func newExecCmd() *cobra.Command {
	var paramsJSON string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "exec <item-type> <item-id>",
		Short: "execute a directive in-thread or resolve and dispatch a tool's delegation chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemType, itemID := args[0], args[1]
			log := newLogger("cmd.exec")

			params := map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return emitError(fmt.Errorf("rye: parse --params: %w", err))
				}
			}

			if itemType == "directive" {
				return execDirective(cmd, itemID, params, dryRun)
			}

			tiers, err := tiersFor(cmd, "tools")
			if err != nil {
				return emitError(err)
			}
			projectPath, _ := cmd.Flags().GetString("project-path")
			resolver := chain.NewResolverWithTiers(tiers)

			if dryRun {
				result, err := resolver.ResolveAndValidate(itemID, projectPath)
				if err != nil {
					return emitError(fmt.Errorf("rye: exec %q: %w", itemID, err))
				}
				entry := result.Chain[0]
				if err := chain.ValidateParams(entry.Meta.Inputs, params); err != nil {
					return emitError(fmt.Errorf("rye: exec %q: %w", itemID, err))
				}
				return emitResult(map[string]any{
					"status":          "validation_passed",
					"item_id":         itemID,
					"chain":           dispatch.ChainSummary(result.Chain),
					"validated_pairs": len(result.Chain) - 1,
				})
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return emitError(fmt.Errorf("rye: load config: %w", err))
			}
			metrics, tracer, shutdown := initObservability(cfg)
			defer shutdown(cmd.Context())

			helperPath, _ := cmd.Flags().GetString("helper-path")
			if helperPath == "" {
				helperPath = cfg.HelperBinaryPath
			}
			subprocess, err := primitives.NewSubprocess(helperPath)
			if err != nil {
				log.Warn("subprocess primitive unavailable", "error", err)
				subprocess = nil
			}
			httpSync := primitives.NewHTTPSync(http.DefaultClient)
			httpStream := primitives.NewHTTPStream(http.DefaultClient)

			invoker := dispatch.NewInvoker(resolver, projectPath, subprocess, httpSync, httpStream)
			execCfg := executor.DefaultConfig()
			if cfg.Retry.MaxAttempts > 0 {
				execCfg.DefaultRetries = cfg.Retry.MaxAttempts
			}
			exec := executor.New(invoker, execCfg)

			ctx := cmd.Context()
			var span trace.Span
			if tracer != nil {
				ctx, span = tracer.TraceToolExecution(ctx, itemID)
			}

			log.Info("dispatching", "item_id", itemID)
			started := time.Now()
			result := exec.Execute(ctx, executor.Request{ItemID: itemID, Params: params})
			if metrics != nil {
				status := "success"
				if result.Err != nil {
					status = "error"
				}
				metrics.RecordToolExecution(itemID, status, time.Since(started).Seconds())
			}
			if span != nil {
				if result.Err != nil {
					tracer.RecordError(span, result.Err)
				}
				span.End()
			}
			if result.Err != nil {
				return emitError(fmt.Errorf("rye: exec %q: %w", itemID, result.Err))
			}
			return emitResult(result.Output)
		},
	}

	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON object of tool parameters")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and validate without dispatching")
	cmd.Flags().String("helper-path", "", "path to the rye-proc helper binary (defaults to PATH lookup)")
	return cmd
}

// execDirective implements the execute primary's in-thread directive
// mode: resolve the directive file, optionally validate params against
// its declared inputs (dry-run), and otherwise hand back the lean
// actionable envelope a calling agent follows in its own context. It
// never spawns a thread — that is the runner's job, reached through
// the registry's continuation path once a conversation is underway.
func execDirective(cmd *cobra.Command, itemID string, params map[string]any, dryRun bool) error {
	tiers, err := tiersFor(cmd, "directives")
	if err != nil {
		return emitError(err)
	}
	d, _, err := directive.Load(tiers, itemID)
	if err != nil {
		return emitError(fmt.Errorf("rye: exec %q: %w", itemID, err))
	}

	if dryRun {
		if err := chain.ValidateParams(d.Inputs, params); err != nil {
			return emitError(fmt.Errorf("rye: exec %q: %w", itemID, err))
		}
		return emitResult(map[string]any{
			"status":  "validation_passed",
			"type":    "directive",
			"item_id": itemID,
		})
	}

	result := map[string]any{
		"status":       "success",
		"type":         "directive",
		"item_id":      itemID,
		"instructions": directive.Instruction,
		"body":         d.Body,
	}
	if len(d.Outputs) > 0 {
		result["outputs"] = d.Outputs
	}
	return emitResult(result)
}
