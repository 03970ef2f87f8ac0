package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/audit"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/local"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/hashing"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/notify"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/service"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/session"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/throttle"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		Security: config.SecurityConfig{
			SessionTimeout:    30 * time.Minute,
			InactivityTimeout: 15 * time.Minute,
			MaxLoginAttempts:  3,
			BaseLockout:       15 * time.Minute,
			LockoutMultiplier: 10,
			AttemptRetention:  24 * time.Hour,
			Pepper:            "pepper",
			DemoAttemptLimit:  10,
		},
		Users: map[string]config.UserSeed{
			"ahmed": {Password: "secret123", Role: "admin", CompanyCode: "BSR001"},
		},
	}

	b, err := local.New("", 0)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	st := store.New(b, store.Options{})
	notifier := notify.NewManager()
	recorder := audit.NewRecorder(st)
	sessions := session.NewManager(st, nil, recorder, cfg.Security)
	thr := throttle.New(st, cfg.Security)

	authService, err := service.NewAuthService(cfg, hashing.NewHasher(cfg), sessions, thr, recorder, notifier, st)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	authHandler := NewAuthHandler(authService, util.Get())
	kvHandler := NewKVHandler(st, notifier, recorder, authHandler, util.Get())
	ledgerHandler := NewLedgerHandler(st, authHandler, util.Get())

	srv := httptest.NewServer(NewRouter(authHandler, kvHandler, ledgerHandler, util.Get()))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, csrf string, body interface{}) (*http.Response, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-test-agent")
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, parsed
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "",
		loginRequest{Username: "ahmed", Password: "secret123"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %+v", resp.StatusCode, parsed)
	}

	data, _ := json.Marshal(parsed.Data)
	var sess sessionResponse
	if err := json.Unmarshal(data, &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.CSRFToken == "" {
		t.Fatal("login response missing CSRF token")
	}
	return sess.CSRFToken
}

func TestLoginAndSession(t *testing.T) {
	srv := newTestServer(t)
	login(t, srv)

	resp, parsed := doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/session", "", nil)
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		t.Errorf("session status = %d, body = %+v", resp.StatusCode, parsed)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "",
		loginRequest{Username: "ahmed", Password: "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestKVRequiresSession(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/kv/settings", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestKVRoundTripWithCSRF(t *testing.T) {
	srv := newTestServer(t)
	csrf := login(t, srv)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/v1/kv/settings", csrf,
		map[string]string{"theme": "dark"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	// Mutations without the CSRF token are rejected.
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/kv/settings", "",
		map[string]string{"theme": "light"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("PUT without CSRF status = %d, want 403", resp.StatusCode)
	}

	resp, parsed := doJSON(t, http.MethodGet, srv.URL+"/api/v1/kv/settings", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
	data, _ := json.Marshal(parsed.Data)
	var settings map[string]string
	if err := json.Unmarshal(data, &settings); err != nil || settings["theme"] != "dark" {
		t.Errorf("settings = %v, %v", settings, err)
	}
}

func TestLedgerSaleFlow(t *testing.T) {
	srv := newTestServer(t)
	csrf := login(t, srv)

	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ledger/sales", csrf,
		map[string]interface{}{"client_name": "شركة النور", "amount": 1000, "paid": 400})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST sale status = %d, body = %+v", resp.StatusCode, parsed)
	}

	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/ledger/sales", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET sales status = %d", resp.StatusCode)
	}
	data, _ := json.Marshal(parsed.Data)
	var sales []map[string]interface{}
	if err := json.Unmarshal(data, &sales); err != nil || len(sales) != 1 {
		t.Fatalf("sales = %v, %v", sales, err)
	}
	if sales[0]["remaining"].(float64) != 600 {
		t.Errorf("remaining = %v, want 600", sales[0]["remaining"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
