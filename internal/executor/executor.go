package executor

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/leolilley/ryeos/internal/backoff"
)

// Invoker performs the actual dispatch of a resolved item to its
// primitive. The executor never knows how an item runs; it only
// bounds, retries, times out, and recovers the invocation.
type Invoker interface {
	Invoke(ctx context.Context, itemID string, params map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, itemID string, params map[string]any) (map[string]any, error)

func (f InvokerFunc) Invoke(ctx context.Context, itemID string, params map[string]any) (map[string]any, error) {
	return f(ctx, itemID, params)
}

// Config bounds an Executor's default behavior; per-item overrides are
// layered on top via ConfigureItem.
type Config struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
	DefaultRetries int
	Backoff        backoff.BackoffPolicy
}

// DefaultConfig mirrors the teacher's DefaultExecutorConfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
		DefaultRetries: 2,
		Backoff:        backoff.DefaultPolicy(),
	}
}

// ItemConfig overrides Config for one specific item id.
type ItemConfig struct {
	Timeout time.Duration
	Retries int
	Backoff *backoff.BackoffPolicy
}

// Executor bounds concurrency via a semaphore, retries classified
// transient failures with backoff, enforces a per-invocation timeout,
// and recovers panics into ExecutionErrors — the same shape as the
// teacher's agent.Executor, generalized from ToolCall invocation to
// arbitrary item invocation.
type Executor struct {
	invoker Invoker
	config  Config

	mu         sync.RWMutex
	itemConfig map[string]*ItemConfig

	sem chan struct{}

	metrics *Metrics
}

// Metrics tracks aggregate invocation counters across the executor's
// lifetime.
type Metrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// MetricsSnapshot is a point-in-time, race-free copy of Metrics.
type MetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// New constructs an Executor dispatching through invoker, using config
// (or DefaultConfig if config's MaxConcurrency is zero).
func New(invoker Invoker, config Config) *Executor {
	if config.MaxConcurrency <= 0 {
		config = DefaultConfig()
	}
	return &Executor{
		invoker:    invoker,
		config:     config,
		itemConfig: make(map[string]*ItemConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
		metrics:    &Metrics{},
	}
}

// ConfigureItem sets a per-item override, consulted by Execute ahead
// of the executor-wide Config.
func (e *Executor) ConfigureItem(itemID string, cfg *ItemConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.itemConfig[itemID] = cfg
}

func (e *Executor) itemConfigFor(itemID string) *ItemConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.itemConfig[itemID]
}

// Request is a single item invocation to run.
type Request struct {
	ItemID string
	Params map[string]any
}

// Result is the outcome of one invocation.
type Result struct {
	ItemID   string
	Output   map[string]any
	Err      error
	Duration time.Duration
	Attempts int
}

// ExecuteAll runs every request concurrently, bounded by the
// executor's semaphore, and returns results in the same order as reqs.
func (e *Executor) ExecuteAll(ctx context.Context, reqs []Request) []*Result {
	if len(reqs) == 0 {
		return nil
	}
	results := make([]*Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r Request) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, r)
		}(i, req)
	}
	wg.Wait()
	return results
}

// Execute runs a single request: acquires a semaphore slot, retries
// classified-retryable failures with backoff up to the configured
// attempt count, enforces a per-attempt timeout, and recovers any
// panic from the underlying Invoker into an ExecutionError.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	result := &Result{ItemID: req.ItemID}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Err = NewExecutionError(req.ItemID, ctx.Err()).WithType(ErrorTimeout)
		result.Duration = time.Since(start)
		return result
	}

	cfg := e.itemConfigFor(req.ItemID)
	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	bp := e.config.Backoff
	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.Retries >= 0 {
			maxRetries = cfg.Retries
		}
		if cfg.Backoff != nil {
			bp = *cfg.Backoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		output, err := e.invokeWithTimeout(ctx, req, timeout)
		if err == nil {
			result.Output = output
			result.Duration = time.Since(start)
			e.recordSuccess(attempt)
			return result
		}

		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		select {
		case <-time.After(backoff.ComputeBackoff(bp, attempt+1)):
		case <-ctx.Done():
			lastErr = NewExecutionError(req.ItemID, ctx.Err()).WithType(ErrorTimeout)
		}
	}

	result.Err = lastErr
	result.Duration = time.Since(start)
	e.recordFailure(lastErr)
	return result
}

func (e *Executor) invokeWithTimeout(ctx context.Context, req Request, timeout time.Duration) (map[string]any, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewExecutionError(req.ItemID, ErrPanic).
					WithType(ErrorPanic).
					WithMessage(panicMessage(r))
				resultCh <- outcome{err: err}
			}
		}()
		output, err := e.invoker.Invoke(execCtx, req.ItemID, req.Params)
		if err != nil {
			resultCh <- outcome{err: NewExecutionError(req.ItemID, err)}
			return
		}
		resultCh <- outcome{output: output}
	}()

	select {
	case res := <-resultCh:
		return res.output, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewExecutionError(req.ItemID, ctx.Err()).WithType(ErrorTimeout).WithMessage("parent context cancelled")
		}
		return nil, NewExecutionError(req.ItemID, ErrTimeout).WithType(ErrorTimeout)
	}
}

func panicMessage(r any) string {
	return "panic: " + toPanicString(r) + "\n" + string(debug.Stack())
}

func toPanicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}

func (e *Executor) recordSuccess(attempt int) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.TotalExecutions++
	if attempt > 0 {
		e.metrics.TotalRetries += int64(attempt)
	}
}

func (e *Executor) recordFailure(err error) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	var ee *ExecutionError
	if errors.As(err, &ee) {
		switch ee.Type {
		case ErrorTimeout:
			e.metrics.TotalTimeouts++
		case ErrorPanic:
			e.metrics.TotalPanics++
		}
	}
}

// Metrics returns a race-free snapshot of the executor's counters.
func (e *Executor) Metrics() MetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return MetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// AnyErrors reports whether any result in results carries an error.
func AnyErrors(results []*Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}
