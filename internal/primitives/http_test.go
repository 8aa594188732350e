package primitives

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSyncSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer auth header")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := NewHTTPSync(nil)
	result, err := h.Do(context.Background(), HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL,
		Auth:   AuthConfig{Kind: AuthBearer, Token: "secret"},
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !result.Success || result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Body != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", result.Body)
	}
}

func TestHTTPSyncRetriesOnFailureThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPSync(nil)
	result, err := h.Do(context.Background(), HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL,
		Retry:  RetryPolicy{Kind: RetryFixed, MaxAttempts: 3, DelayMs: 1},
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestHTTPSyncNonSuccessStatusNotRetriedBeyondMax(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHTTPSync(nil)
	result, err := h.Do(context.Background(), HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL,
		Retry:  RetryPolicy{Kind: RetryFixed, MaxAttempts: 2, DelayMs: 1},
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure result, got %+v", result)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly MaxAttempts attempts, got %d", attempts)
	}
}

func TestHTTPSyncEnvTemplatedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("RYE_TEST_RESOURCE", "widgets")
	h := NewHTTPSync(&http.Client{Timeout: 2 * time.Second})
	result, err := h.Do(context.Background(), HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL + "/${RYE_TEST_RESOURCE}",
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}
