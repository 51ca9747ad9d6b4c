package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobchat/cmd/internal/auth"
	"jobchat/cmd/internal/chat"
)

func testConfig() Config {
	return Config{
		HTTPAddr:        "127.0.0.1:0",
		PushProvider:    PushProviderNone,
		DBSchema:        "chat",
		DirectorySchema: "public",
		DevSeed:         true,
		WS:              chat.DefaultWSConfig(),
	}
}

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestApp(t *testing.T, cfg Config) (*App, *httptest.Server) {
	t.Helper()

	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)

	mux := http.NewServeMux()
	registerHTTP(mux, httpDeps{
		log:      a.log,
		cfg:      a.cfg,
		dbPool:   a.dbPool,
		durable:  a.durable,
		presence: a.presence,
		metrics:  a.metrics,
		ws:       a.ws,
		api:      a.api,
	})
	ts := httptest.NewServer(WithSecurityHeaders(mux))
	t.Cleanup(ts.Close)
	return a, ts
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func postSend(t *testing.T, base, token string, body map[string]any) int {
	t.Helper()
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, base+"/messages/send", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestApp_InMemoryWiring(t *testing.T) {
	a, ts := startTestApp(t, testConfig())
	if a.durable {
		t.Fatalf("memory store must not report durable")
	}

	if status, body := getBody(t, ts.URL+"/healthz"); status != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: %d %q", status, body)
	}
	if status, _ := getBody(t, ts.URL+"/readyz"); status != http.StatusOK {
		t.Fatalf("readyz: %d", status)
	}

	status := postSend(t, ts.URL, "", map[string]any{
		"booking_id":  demoBookingID,
		"sender_type": "client",
		"content":     "hello from the wiring test",
		"user_id":     "demo-client",
	})
	if status != http.StatusCreated {
		t.Fatalf("send: %d", status)
	}

	status, body := getBody(t, ts.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics: %d", status)
	}
	for _, want := range []string{"chat_messages_persisted_total 1", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_ReadinessRequiresDurableStore(t *testing.T) {
	cfg := testConfig()
	cfg.ReadinessRequire = true

	_, ts := startTestApp(t, cfg)
	if status, _ := getBody(t, ts.URL+"/readyz"); status != http.StatusServiceUnavailable {
		t.Fatalf("readyz without durable store: %d", status)
	}
}

func TestApp_SQLiteStoreIsDurable(t *testing.T) {
	cfg := testConfig()
	cfg.ReadinessRequire = true
	cfg.SQLitePath = filepath.Join(t.TempDir(), "chat.db")

	a, ts := startTestApp(t, cfg)
	if !a.durable {
		t.Fatalf("sqlite store should be durable")
	}
	if status, _ := getBody(t, ts.URL+"/readyz"); status != http.StatusOK {
		t.Fatalf("readyz: %d", status)
	}
}

func TestApp_UnseededDirectoryResolvesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.DevSeed = false

	_, ts := startTestApp(t, cfg)
	status := postSend(t, ts.URL, "", map[string]any{
		"booking_id":  demoBookingID,
		"sender_type": "client",
		"content":     "hi",
		"user_id":     "demo-client",
	})
	if status != http.StatusNotFound {
		t.Fatalf("send to unseeded booking: %d", status)
	}
}

func TestApp_BearerAuthWiring(t *testing.T) {
	signer := auth.GenerateSigner("jobchat-test")

	cfg := testConfig()
	cfg.AuthRequired = true
	cfg.AuthPublicKeyHex = signer.PublicKeyHex()
	cfg.AuthIssuer = "jobchat-test"

	_, ts := startTestApp(t, cfg)

	body := map[string]any{"booking_id": demoBookingID, "sender_type": "client", "content": "hi"}
	if status := postSend(t, ts.URL, "", body); status != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", status)
	}

	tok := signer.Issue("demo-client", time.Now(), time.Hour)
	if status := postSend(t, ts.URL, tok, body); status != http.StatusCreated {
		t.Fatalf("valid token: %d", status)
	}
}

func TestApp_RejectsInvalidSecurityConfig(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRequired = true

	if _, err := New(cfg, discardLogger()); err == nil {
		t.Fatalf("expected error when auth is required without a key")
	}
}
