// Multi-tenant token store (spec.md §4.11): services authenticate by
// name ("github", "linear", ...), each with its own access/refresh
// token pair. The OS keychain is tried first; when it is unavailable
// (headless CI, missing secret service) tokens fall back to per-service
// encrypted files under {USER_SPACE}/.ai/auth/. Grounded on
// internal/crypto's AES-256-GCM sealed-and-base64 convention (nonce
// prepended to ciphertext) from the pack's rakunlabs-at example,
// adapted here to derive its key via PBKDF2-HMAC-SHA256 over a
// machine-specific seed and a persisted per-install salt instead of a
// bare passphrase hash, and on jwt.go/oauth.go for this package's
// error-and-service conventions.
package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLen     = 32
	keyringService   = "rye"
	saltFileName     = ".salt"
	saltLen          = 16
)

var (
	// ErrTokenNotFound is returned when no token is stored for a service.
	ErrTokenNotFound = errors.New("auth: no token stored for service")
	// ErrRefreshUnavailable is returned when a token is expired and no
	// refresh material (refresh token + refresh config) is available.
	ErrRefreshUnavailable = errors.New("auth: token expired and cannot be refreshed")
)

// RefreshError carries the OAuth2 token endpoint's failure response
// when a refresh attempt fails, per spec.md's get_token contract.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("auth: token refresh failed with status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// RefreshConfig names the OAuth2 endpoint and client credentials used
// to refresh an expired access token.
type RefreshConfig struct {
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// tokenRecord is the persisted shape for one service's credentials,
// marshaled to JSON before being handed to either backend.
type tokenRecord struct {
	Service       string         `json:"service"`
	AccessToken   string         `json:"access_token"`
	RefreshToken  string         `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time      `json:"expires_at,omitempty"`
	Scopes        []string       `json:"scopes,omitempty"`
	RefreshConfig *RefreshConfig `json:"refresh_config,omitempty"`
}

func (r *tokenRecord) expired() bool {
	return !r.ExpiresAt.IsZero() && time.Now().After(r.ExpiresAt)
}

// TokenStore is the multi-tenant credential store of spec.md §4.11.
type TokenStore struct {
	userSpace  string
	httpClient *http.Client
}

// NewTokenStore builds a token store rooted at userSpace (the resolved
// user-tier space directory; the file fallback writes under
// {userSpace}/.ai/auth/).
func NewTokenStore(userSpace string) *TokenStore {
	return &TokenStore{userSpace: userSpace, httpClient: http.DefaultClient}
}

// SetToken persists a service's credentials, preferring the OS
// keychain and falling back to an encrypted file when the keychain is
// unavailable.
func (s *TokenStore) SetToken(service, accessToken, refreshToken string, expiresIn time.Duration, scopes []string, refreshConfig *RefreshConfig) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("auth: service identifier required")
	}
	rec := &tokenRecord{
		Service:       service,
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		Scopes:        scopes,
		RefreshConfig: refreshConfig,
	}
	if expiresIn > 0 {
		rec.ExpiresAt = time.Now().Add(expiresIn)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auth: marshal token record: %w", err)
	}

	if err := keyring.Set(keyringService, service, string(data)); err == nil {
		return nil
	}
	return s.writeEncryptedFile(service, data)
}

// GetToken returns service's current access token, auto-refreshing it
// via the OAuth2 token endpoint named in its refresh config if it has
// expired and refresh material is present. scope is accepted for
// forward-compatibility with per-scope token selection but is not
// presently used to discriminate between stored records.
func (s *TokenStore) GetToken(ctx context.Context, service, scope string) (string, error) {
	rec, err := s.load(service)
	if err != nil {
		return "", err
	}
	if !rec.expired() {
		return rec.AccessToken, nil
	}
	if rec.RefreshToken == "" || rec.RefreshConfig == nil {
		return "", ErrRefreshUnavailable
	}

	refreshed, err := s.refresh(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := s.save(refreshed); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// IsAuthenticated reports whether a (possibly expired) token is stored
// for service.
func (s *TokenStore) IsAuthenticated(service string) bool {
	_, err := s.load(service)
	return err == nil
}

// ClearToken removes any stored credentials for service from both
// backends.
func (s *TokenStore) ClearToken(service string) error {
	service = strings.TrimSpace(service)
	_ = keyring.Delete(keyringService, service)

	path, err := s.filePath(service)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("auth: remove token file: %w", err)
	}
	return nil
}

func (s *TokenStore) load(service string) (*tokenRecord, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, errors.New("auth: service identifier required")
	}

	if data, err := keyring.Get(keyringService, service); err == nil {
		return decodeRecord([]byte(data))
	}

	data, err := s.readEncryptedFile(service)
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (s *TokenStore) save(rec *tokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auth: marshal token record: %w", err)
	}
	if err := keyring.Set(keyringService, rec.Service, string(data)); err == nil {
		return nil
	}
	return s.writeEncryptedFile(rec.Service, data)
}

func decodeRecord(data []byte) (*tokenRecord, error) {
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("auth: decode token record: %w", err)
	}
	return &rec, nil
}

// refresh exchanges rec's refresh token for a new access token via the
// standard OAuth2 refresh_token grant.
func (s *TokenStore) refresh(ctx context.Context, rec *tokenRecord) (*tokenRecord, error) {
	cfg := rec.RefreshConfig
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rec.RefreshToken},
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: read refresh response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("auth: decode refresh response: %w", err)
	}

	refreshToken := payload.RefreshToken
	if refreshToken == "" {
		refreshToken = rec.RefreshToken
	}
	next := &tokenRecord{
		Service:       rec.Service,
		AccessToken:   payload.AccessToken,
		RefreshToken:  refreshToken,
		Scopes:        rec.Scopes,
		RefreshConfig: rec.RefreshConfig,
	}
	if payload.ExpiresIn > 0 {
		next.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return next, nil
}

// filePath returns the encrypted fallback file path for service:
// {USER_SPACE}/.ai/auth/{sha256-prefix}.token, per spec.md §4.11.
func (s *TokenStore) filePath(service string) (string, error) {
	if strings.TrimSpace(s.userSpace) == "" {
		return "", errors.New("auth: user space not configured")
	}
	sum := sha256.Sum256([]byte(service))
	prefix := hex.EncodeToString(sum[:8])
	return filepath.Join(s.userSpace, ".ai", "auth", prefix+".token"), nil
}

func (s *TokenStore) writeEncryptedFile(service string, plaintext []byte) error {
	path, err := s.filePath(service)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("auth: create auth dir: %w", err)
	}

	key, err := s.deriveKey(dir)
	if err != nil {
		return err
	}
	sealed, err := encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("auth: encrypt token: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("auth: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("auth: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("auth: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: rename temp file: %w", err)
	}
	return nil
}

func (s *TokenStore) readEncryptedFile(service string) ([]byte, error) {
	path, err := s.filePath(service)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("auth: read token file: %w", err)
	}

	key, err := s.deriveKey(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	plaintext, err := decrypt(sealed, key)
	if err != nil {
		return nil, fmt.Errorf("auth: decrypt token: %w", err)
	}
	return plaintext, nil
}

// deriveKey derives the fallback backend's AES-256 key via
// PBKDF2-HMAC-SHA256 from a machine-specific seed ({login}@{hostname})
// and a random salt persisted once per install at dir/.salt with
// owner-only permissions.
func (s *TokenStore) deriveKey(dir string) ([]byte, error) {
	salt, err := loadOrCreateSalt(dir)
	if err != nil {
		return nil, err
	}
	seed := machineSeed()
	return pbkdf2.Key([]byte(seed), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New), nil
}

func machineSeed() string {
	login := os.Getenv("USER")
	if login == "" {
		login = os.Getenv("USERNAME")
	}
	if login == "" {
		login = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s:lillux-auth", login, host)
}

func loadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFileName)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("auth: read salt: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("auth: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("auth: write salt: %w", err)
	}
	return salt, nil
}

// encrypt/decrypt use AES-256-GCM, sealing the nonce onto the front of
// the ciphertext, mirroring the pack's token-encryption convention.
func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
