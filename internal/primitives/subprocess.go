package primitives

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// HelperBinaryName is the rye-proc helper's executable name, looked up
// on PATH when NewSubprocess is given no explicit helper path.
const HelperBinaryName = "rye-proc"

// Subprocess delegates all process operations to an external rye-proc
// helper binary over its stdout-JSON interface. The helper is resolved
// once at construction; its absence is a hard configuration error,
// matching the fail-fast posture the teacher's daemon packages take
// toward missing platform helpers (see internal/daemon).
type Subprocess struct {
	helperPath string
}

// NewSubprocess locates the rye-proc helper on PATH (or at helperPath,
// if non-empty) and returns a Subprocess primitive. It errors
// immediately if the helper cannot be found, rather than deferring the
// failure to the first invocation.
func NewSubprocess(helperPath string) (*Subprocess, error) {
	if helperPath == "" {
		resolved, err := exec.LookPath(HelperBinaryName)
		if err != nil {
			return nil, fmt.Errorf("primitives: rye-proc helper not found on PATH: %w", err)
		}
		helperPath = resolved
	} else if _, err := exec.LookPath(helperPath); err != nil {
		return nil, fmt.Errorf("primitives: rye-proc helper not found at %q: %w", helperPath, err)
	}
	return &Subprocess{helperPath: helperPath}, nil
}

// ExecuteRequest is the templated command description passed to
// rye-proc for a synchronous run.
type ExecuteRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	CWD     string            `json:"cwd,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	EnvVars map[string]string `json:"env,omitempty"`
	Timeout time.Duration     `json:"-"`
}

// ExecuteResult is rye-proc's response to an execute operation.
type ExecuteResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
	DurationMs int64  `json:"duration_ms"`
}

// SpawnResult is rye-proc's response to a spawn (detached launch)
// operation.
type SpawnResult struct {
	PID int `json:"pid"`
}

// KillResult is rye-proc's response to a kill operation.
type KillResult struct {
	Method string `json:"method"` // "terminated", "killed", or "already_dead"
}

// StatusResult is rye-proc's response to a status query.
type StatusResult struct {
	PID   int  `json:"pid"`
	Alive bool `json:"alive"`
}

// resolve applies two-stage templating to the request's
// command, args, cwd, and stdin fields in place.
func (r *ExecuteRequest) resolve(params map[string]string) {
	r.Command = ResolveTemplate(r.Command, params)
	r.Args = ResolveTemplateAll(r.Args, params)
	r.CWD = ResolveTemplate(r.CWD, params)
	r.Stdin = ResolveTemplate(r.Stdin, params)
}

// Execute runs req.Command synchronously via the helper, returning
// stdout/stderr/return code/duration. Parameters are resolved through
// ResolveTemplate before dispatch.
func (s *Subprocess) Execute(ctx context.Context, req ExecuteRequest, params map[string]string) (*ExecuteResult, error) {
	req.resolve(params)
	var out ExecuteResult
	if err := s.invoke(ctx, "execute", req, req.Timeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Spawn launches req.Command detached, with stdout/stderr redirected
// to the helper's own log files, and returns its pid immediately.
func (s *Subprocess) Spawn(ctx context.Context, req ExecuteRequest, params map[string]string) (*SpawnResult, error) {
	req.resolve(params)
	var out SpawnResult
	if err := s.invoke(ctx, "spawn", req, 0, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KillRequest identifies the process to terminate and how long to wait
// between the graceful and forceful signal.
type KillRequest struct {
	PID   int `json:"pid"`
	Grace int `json:"grace"` // seconds between SIGTERM and SIGKILL
}

// Kill sends a graceful termination signal, escalating to a forceful
// one after req.Grace seconds if the process is still alive.
func (s *Subprocess) Kill(ctx context.Context, req KillRequest) (*KillResult, error) {
	var out KillResult
	if err := s.invoke(ctx, "kill", req, 0, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusRequest identifies the process to query.
type StatusRequest struct {
	PID int `json:"pid"`
}

// Status reports whether pid is still alive.
func (s *Subprocess) Status(ctx context.Context, req StatusRequest) (*StatusResult, error) {
	var out StatusResult
	if err := s.invoke(ctx, "status", req, 0, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// invoke runs the helper binary with op as its sole argument, feeds
// payload to it as JSON on stdin, and decodes its stdout-JSON response
// into out.
func (s *Subprocess) invoke(ctx context.Context, op string, payload any, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("primitives: marshal %s request: %w", op, err)
	}

	cmd := exec.CommandContext(ctx, s.helperPath, op)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("primitives: rye-proc %s timed out: %w", op, ctx.Err())
		}
		return fmt.Errorf("primitives: rye-proc %s failed: %w (stderr: %s)", op, err, stderr.String())
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("primitives: decode rye-proc %s response: %w", op, err)
	}
	return nil
}
