// Package dispatch implements the glue spec.md §4.4 describes between
// the chain resolver and the three built-in primitives: given
// {item_id, parameters}, resolve and validate the delegation chain,
// thread each parent's env_config transformation over its child's
// parameters, invoke the root primitive, and return an
// ExecutionResult carrying the chain and timing metadata alongside
// the primitive's own result. internal/executor bounds and retries
// calls into this invoker; it never resolves a chain itself.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leolilley/ryeos/internal/chain"
	"github.com/leolilley/ryeos/internal/primitives"
	"github.com/leolilley/ryeos/pkg/models"
)

// subprocessRequest, httpEnvRequest, and streamEnvRequest are the EnvConfig
// shapes a tool metadata file's env_config block decodes into for
// each tool_type, templated against params before dispatch.
type subprocessRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	CWD     string            `json:"cwd,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout float64           `json:"timeout_seconds,omitempty"`
}

type httpEnvRequest struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        any               `json:"body,omitempty"`
	TimeoutSecs float64           `json:"timeout_seconds,omitempty"`
	Retry       struct {
		Kind        string  `json:"kind"`
		MaxAttempts int     `json:"max_attempts"`
		DelayMs     float64 `json:"delay_ms"`
	} `json:"retry"`
	Auth struct {
		Kind   string `json:"kind"`
		Token  string `json:"token"`
		Header string `json:"header"`
	} `json:"auth"`
}

type streamEnvRequest struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	TimeoutSecs float64           `json:"timeout_seconds,omitempty"`
	SinkCap     int               `json:"sink_buffer_size,omitempty"`
}

// Invoker resolves an item's chain and drives it to a primitive,
// implementing executor.Invoker.
type Invoker struct {
	resolver     *chain.Resolver
	lockfileRoot string
	subprocess   *primitives.Subprocess
	httpSync     *primitives.HTTPSync
	httpStream   *primitives.HTTPStream
	log          *slog.Logger
}

// NewInvoker wires a chain resolver to the three built-in primitives.
// subprocess may be nil if no rye-proc helper is configured; invoking a
// subprocess-typed chain in that case fails with a configuration error
// rather than a nil dereference.
func NewInvoker(resolver *chain.Resolver, lockfileRoot string, subprocess *primitives.Subprocess, httpSync *primitives.HTTPSync, httpStream *primitives.HTTPStream) *Invoker {
	return &Invoker{
		resolver:     resolver,
		lockfileRoot: lockfileRoot,
		subprocess:   subprocess,
		httpSync:     httpSync,
		httpStream:   httpStream,
		log:          slog.Default().With("component", "dispatch.invoker"),
	}
}

// Invoke implements executor.Invoker: resolve itemID's chain, thread
// parameters through every non-primitive link's env_config, and invoke
// the terminal primitive.
func (inv *Invoker) Invoke(ctx context.Context, itemID string, params map[string]any) (map[string]any, error) {
	start := time.Now()
	result, err := inv.resolver.ResolveAndValidate(itemID, inv.lockfileRoot)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve %q: %w", itemID, err)
	}

	entry := result.Chain[0]
	if err := chain.ValidateParams(entry.Meta.Inputs, params); err != nil {
		return nil, fmt.Errorf("dispatch: %q: %w", itemID, err)
	}

	threaded, resolvedKeys := threadEnvConfig(result.Chain, params)
	terminal := result.Chain[len(result.Chain)-1]

	data, derr := inv.invokePrimitive(ctx, terminal.Meta, threaded)
	elapsed := time.Since(start).Milliseconds()

	out := map[string]any{
		"success":           derr == nil,
		"data":              data,
		"duration_ms":       elapsed,
		"chain":             ChainSummary(result.Chain),
		"resolved_env_keys": resolvedKeys,
		"metadata":          map[string]any{"warnings": result.Warnings},
	}
	if derr != nil {
		out["error"] = derr.Error()
		inv.log.Warn("primitive invocation failed", "item_id", itemID, "error", derr)
	}
	return out, nil
}

// threadEnvConfig composes the final parameter set by layering each
// non-terminal link's env_config (itself templated against the params
// seen so far) over the params passed to its child, innermost first.
// It returns the fully-threaded params and the set of keys any link's
// env_config contributed.
func threadEnvConfig(links []models.ChainLink, params map[string]any) (map[string]any, []string) {
	current := make(map[string]any, len(params))
	for k, v := range params {
		current[k] = v
	}
	var resolvedKeys []string

	for _, link := range links[:len(links)-1] {
		strParams := primitives.StringParams(current)
		for k, v := range link.Meta.EnvConfig {
			if s, ok := v.(string); ok {
				current[k] = primitives.ResolveTemplate(s, strParams)
			} else {
				current[k] = v
			}
			resolvedKeys = append(resolvedKeys, k)
		}
	}
	return current, resolvedKeys
}

// ChainSummary renders a resolved chain's {item_id, tier, hash} triples
// for a result envelope, shared by a normal dispatch and a dry-run
// validation pass.
func ChainSummary(links []models.ChainLink) []map[string]string {
	out := make([]map[string]string, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]string{"item_id": l.ItemID, "tier": l.Tier, "hash": l.Hash})
	}
	return out
}

func (inv *Invoker) invokePrimitive(ctx context.Context, meta models.ToolMetadata, params map[string]any) (any, error) {
	strParams := primitives.StringParams(params)

	switch meta.ToolType {
	case "subprocess":
		if inv.subprocess == nil {
			return nil, fmt.Errorf("dispatch: subprocess primitive not configured")
		}
		var req subprocessRequest
		if err := decodeEnvConfig(meta.EnvConfig, &req); err != nil {
			return nil, err
		}
		execReq := primitives.ExecuteRequest{
			Command: req.Command,
			Args:    req.Args,
			CWD:     req.CWD,
			Stdin:   req.Stdin,
			EnvVars: req.Env,
			Timeout: secondsToDuration(req.Timeout),
		}
		return inv.subprocess.Execute(ctx, execReq, strParams)

	case "http":
		if inv.httpSync == nil {
			return nil, fmt.Errorf("dispatch: http primitive not configured")
		}
		var req httpEnvRequest
		if err := decodeEnvConfig(meta.EnvConfig, &req); err != nil {
			return nil, err
		}
		httpReq := primitives.HTTPRequest{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
			Timeout: secondsToDuration(req.TimeoutSecs),
			Retry: primitives.RetryPolicy{
				Kind:        primitives.RetryKind(req.Retry.Kind),
				MaxAttempts: req.Retry.MaxAttempts,
				DelayMs:     req.Retry.DelayMs,
			},
			Auth: primitives.AuthConfig{
				Kind:   primitives.AuthKind(req.Auth.Kind),
				Token:  req.Auth.Token,
				Header: req.Auth.Header,
			},
		}
		return inv.httpSync.Do(ctx, httpReq, strParams)

	case "sse":
		if inv.httpStream == nil {
			return nil, fmt.Errorf("dispatch: http stream primitive not configured")
		}
		var req streamEnvRequest
		if err := decodeEnvConfig(meta.EnvConfig, &req); err != nil {
			return nil, err
		}
		sink := primitives.NewBufferSink(req.SinkCap)
		streamReq := primitives.StreamRequest{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    []byte(req.Body),
			Timeout: secondsToDuration(req.TimeoutSecs),
			Sinks:   []primitives.Sink{sink},
		}
		return inv.httpStream.Open(ctx, streamReq, strParams)

	default:
		return nil, fmt.Errorf("dispatch: unknown tool_type %q for item %q", meta.ToolType, meta.ID)
	}
}

func decodeEnvConfig(envConfig map[string]any, dst any) error {
	raw, err := json.Marshal(envConfig)
	if err != nil {
		return fmt.Errorf("dispatch: marshal env_config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("dispatch: decode env_config: %w", err)
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
