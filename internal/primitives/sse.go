package primitives

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sink receives every event an SSE stream emits. A "return" sink
// buffers into the result body (see BufferSink); a tool-reference sink
// forwards each event to another tool invocation (see DispatchSink).
type Sink interface {
	// Name identifies the sink in the result's stream_destinations list.
	Name() string
	// Write delivers one SSE event's data payload to the sink.
	Write(ctx context.Context, event string) error
}

// BufferSink accumulates events up to Cap bytes, in the manner of the
// teacher's truncating output buffers (internal/shell's pending output
// cap). Additional data past the cap is dropped, not an error.
type BufferSink struct {
	Cap int
	mu  sync.Mutex
	buf strings.Builder
	n   int
}

func NewBufferSink(cap int) *BufferSink {
	if cap <= 0 {
		cap = 64 << 10
	}
	return &BufferSink{Cap: cap}
}

func (b *BufferSink) Name() string { return "return" }

func (b *BufferSink) Write(_ context.Context, event string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n >= b.Cap {
		return nil
	}
	remaining := b.Cap - b.n
	if len(event) > remaining {
		event = event[:remaining]
	}
	b.buf.WriteString(event)
	b.n += len(event)
	return nil
}

func (b *BufferSink) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// DispatchFunc invokes another tool with the streamed event as input,
// the mechanism a tool-reference sink uses to forward events onward.
type DispatchFunc func(ctx context.Context, toolID string, event string) error

// DispatchSink forwards each event to a tool via Dispatch.
type DispatchSink struct {
	ToolID   string
	Dispatch DispatchFunc
}

func (d *DispatchSink) Name() string { return d.ToolID }

func (d *DispatchSink) Write(ctx context.Context, event string) error {
	return d.Dispatch(ctx, d.ToolID, event)
}

// StreamRequest is the templated description of an HTTP/SSE stream
// open request.
type StreamRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
	Sinks   []Sink
}

// StreamResult is the outcome of a completed (or failed) SSE stream.
type StreamResult struct {
	Success            bool              `json:"success"`
	StatusCode         int               `json:"status_code"`
	Body               string            `json:"body,omitempty"`
	Headers            map[string]string `json:"headers"`
	DurationMs         int64             `json:"duration_ms"`
	StreamEventsCount  int               `json:"stream_events_count"`
	StreamDestinations []string          `json:"stream_destinations"`
	Error              string            `json:"error,omitempty"`
}

// HTTPStream opens a streaming HTTP response and fans out each `data:`
// line to every configured sink concurrently, in the fan-out-to-channel
// style the teacher's streaming providers use (see
// internal/agent/providers/ollama.go's streamResponse).
type HTTPStream struct {
	client *http.Client
}

func NewHTTPStream(client *http.Client) *HTTPStream {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPStream{client: client}
}

// Open issues req and streams its response body's `data:` lines to
// req.Sinks until the stream closes or ctx is canceled.
func (s *HTTPStream) Open(ctx context.Context, req StreamRequest, params map[string]string) (*StreamResult, error) {
	url := ResolveTemplate(req.URL, params)
	headers := ResolveTemplateMap(req.Headers, params)

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = strings.NewReader(string(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("primitives: build SSE request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return &StreamResult{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}, err
	}
	defer resp.Body.Close()

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &StreamResult{
			Success:    false,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Headers:    respHeaders,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      fmt.Sprintf("unsuccessful status code %d", resp.StatusCode),
		}, nil
	}

	count, err := fanOut(ctx, resp.Body, req.Sinks)

	destinations := make([]string, len(req.Sinks))
	for i, sink := range req.Sinks {
		destinations[i] = sink.Name()
	}

	result := &StreamResult{
		Success:            err == nil,
		StatusCode:         resp.StatusCode,
		Headers:            respHeaders,
		DurationMs:         time.Since(start).Milliseconds(),
		StreamEventsCount:  count,
		StreamDestinations: destinations,
	}
	if err != nil {
		result.Error = err.Error()
	}
	for _, sink := range req.Sinks {
		if buf, ok := sink.(*BufferSink); ok {
			result.Body = buf.String()
		}
	}
	return result, nil
}

// fanOut reads `data:` lines from body and writes each concurrently to
// every sink, returning the number of events seen.
func fanOut(ctx context.Context, body io.Reader, sinks []Sink) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	count := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		event := strings.TrimPrefix(line, "data:")
		event = strings.TrimPrefix(event, " ")
		if event == "" {
			continue
		}
		count++

		var wg sync.WaitGroup
		for _, sink := range sinks {
			wg.Add(1)
			go func(sink Sink) {
				defer wg.Done()
				_ = sink.Write(ctx, event)
			}(sink)
		}
		wg.Wait()
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("primitives: read SSE stream: %w", err)
	}
	return count, nil
}
