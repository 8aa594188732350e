package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(t.TempDir())
}

func uniqueService(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestSetTokenAndGetTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	service := uniqueService(t)
	t.Cleanup(func() { _ = store.ClearToken(service) })

	if err := store.SetToken(service, "access-1", "", 0, []string{"read"}, nil); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	token, err := store.GetToken(context.Background(), service, "")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("expected access-1, got %q", token)
	}
}

func TestGetTokenUnknownServiceReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetToken(context.Background(), uniqueService(t), "")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestIsAuthenticated(t *testing.T) {
	store := newTestStore(t)
	service := uniqueService(t)
	t.Cleanup(func() { _ = store.ClearToken(service) })

	if store.IsAuthenticated(service) {
		t.Fatalf("expected not authenticated before SetToken")
	}
	if err := store.SetToken(service, "access-1", "", 0, nil, nil); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if !store.IsAuthenticated(service) {
		t.Fatalf("expected authenticated after SetToken")
	}
}

func TestClearTokenRemovesCredentials(t *testing.T) {
	store := newTestStore(t)
	service := uniqueService(t)

	if err := store.SetToken(service, "access-1", "", 0, nil, nil); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := store.ClearToken(service); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if store.IsAuthenticated(service) {
		t.Fatalf("expected not authenticated after ClearToken")
	}
}

func TestGetTokenExpiredWithoutRefreshMaterial(t *testing.T) {
	store := newTestStore(t)
	service := uniqueService(t)
	t.Cleanup(func() { _ = store.ClearToken(service) })

	if err := store.SetToken(service, "access-1", "", time.Millisecond, nil, nil); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err := store.GetToken(context.Background(), service, "")
	if !errors.Is(err, ErrRefreshUnavailable) {
		t.Fatalf("expected ErrRefreshUnavailable, got %v", err)
	}
}

func TestGetTokenAutoRefreshesExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse refresh form: %v", err)
		}
		if r.FormValue("grant_type") != "refresh_token" || r.FormValue("refresh_token") != "refresh-1" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	store := newTestStore(t)
	service := uniqueService(t)
	t.Cleanup(func() { _ = store.ClearToken(service) })

	cfg := &RefreshConfig{TokenURL: server.URL, ClientID: "client", ClientSecret: "secret"}
	if err := store.SetToken(service, "access-1", "refresh-1", time.Millisecond, nil, cfg); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	token, err := store.GetToken(context.Background(), service, "")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if token != "access-2" {
		t.Fatalf("expected refreshed access-2, got %q", token)
	}

	// The refreshed record should be persisted: a second call must not
	// hit the refresh endpoint again (the server would reject a replay
	// of the now-stale refresh-1 token with 400, but expires_in=3600
	// means this GetToken should be served from the stored record).
	token, err = store.GetToken(context.Background(), service, "")
	if err != nil {
		t.Fatalf("GetToken (second call): %v", err)
	}
	if token != "access-2" {
		t.Fatalf("expected access-2 on second call, got %q", token)
	}
}

func TestGetTokenRefreshFailureReturnsRefreshError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	store := newTestStore(t)
	service := uniqueService(t)
	t.Cleanup(func() { _ = store.ClearToken(service) })

	cfg := &RefreshConfig{TokenURL: server.URL, ClientID: "client", ClientSecret: "secret"}
	if err := store.SetToken(service, "access-1", "refresh-1", time.Millisecond, nil, cfg); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err := store.GetToken(context.Background(), service, "")
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected *RefreshError, got %v", err)
	}
	if refreshErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", refreshErr.StatusCode)
	}
}
