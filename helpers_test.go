package main

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mrmod/travis-telegram/backend"
)

var (
	testKeysOnce sync.Once
	testKey      *rsa.PrivateKey
	otherTestKey *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if otherTestKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return testKey, otherTestKey
}

func publicKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed in setup: %s", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, payload string) string {
	t.Helper()
	digest := sha1.Sum([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	if err != nil {
		t.Fatalf("failed in setup: %s", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// travisConfigBody is a trimmed Travis /config response
func travisConfigBody(keyPEM string) string {
	b, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"host": "travis-ci.org",
			"notifications": map[string]any{
				"webhook": map[string]any{
					"public_key": keyPEM,
				},
			},
		},
	})
	return string(b)
}

const testPayload = `{"id":1,"number":"42","build_url":"https://x/42","status":0,"status_message":"Passed","duration":12,` +
	`"repository":{"id":7,"name":"repo","owner_name":"ann"},"commit":"abcdef1234","branch":"main",` +
	`"message":"fix bug","author_name":"Ann","author_email":"ann@example.com"}`

type MockedInterface struct {
	FunctionCallCounter map[string]int
}

func (m *MockedInterface) Reset(name string) {
	m.FunctionCallCounter[name] = 0
}

func (m *MockedInterface) ResetAll() {
	m.FunctionCallCounter = map[string]int{}
}

// mockTravis serves the Travis config endpoint
type mockTravis struct {
	*httptest.Server
	*MockedInterface
	mu         sync.Mutex
	statusCode int
	body       string
}

func newMockTravis(t *testing.T, keyPEM string) *mockTravis {
	t.Helper()
	m := &mockTravis{
		MockedInterface: &MockedInterface{map[string]int{}},
		statusCode:      http.StatusOK,
		body:            travisConfigBody(keyPEM),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.FunctionCallCounter["GetConfig"]++
		if r.Method != http.MethodGet || r.URL.Path != "/config" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(m.statusCode)
		io.WriteString(w, m.body)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockTravis) ConfigURL() string {
	return m.URL + "/config"
}

func (m *mockTravis) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FunctionCallCounter["GetConfig"]
}

// mockTelegram serves the bot sendMessage endpoint and records bodies
type mockTelegram struct {
	*httptest.Server
	mu         sync.Mutex
	statusCode int
	requests   []SendMessageRequest
	paths      []string
}

func newMockTelegram(t *testing.T) *mockTelegram {
	t.Helper()
	m := &mockTelegram{statusCode: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.paths = append(m.paths, r.URL.Path)
		msg := SendMessageRequest{}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.requests = append(m.requests, msg)
		w.WriteHeader(m.statusCode)
		if m.statusCode == http.StatusOK {
			io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
			return
		}
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	t.Cleanup(m.Close)
	return m
}

// ApiUrl mimics a bot prefix
func (m *mockTelegram) ApiUrl() string {
	return m.URL + "/bot123:token"
}

func (m *mockTelegram) Requests() []SendMessageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendMessageRequest{}, m.requests...)
}

// MockKeyCache is an in-memory backend.KeyCache
type MockKeyCache struct {
	*MockedInterface
	mu      sync.Mutex
	entries map[string]string
	ttls    map[string]time.Duration
	getErr  error
}

func NewMockKeyCache() *MockKeyCache {
	return &MockKeyCache{
		MockedInterface: &MockedInterface{map[string]int{}},
		entries:         map[string]string{},
		ttls:            map[string]time.Duration{},
	}
}

func (c *MockKeyCache) GetPublicKey(ctx context.Context, configURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FunctionCallCounter["GetPublicKey"]++
	if c.getErr != nil {
		return "", c.getErr
	}
	pem, ok := c.entries[configURL]
	if !ok {
		return "", fmt.Errorf("miss: %w", backend.ErrKeyNotFound)
	}
	return pem, nil
}

func (c *MockKeyCache) SavePublicKey(ctx context.Context, configURL, pem string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FunctionCallCounter["SavePublicKey"]++
	c.entries[configURL] = pem
	c.ttls[configURL] = ttl
	return nil
}
