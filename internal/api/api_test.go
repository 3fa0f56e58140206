package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/server"
	"github.com/energizer-project/rconctl/internal/testutil/rcontest"
	"github.com/energizer-project/rconctl/internal/util"
)

type testEnv struct {
	api     *Server
	manager *server.Manager
	history *db.History
	srv     *rcontest.Server
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := rcontest.NewServer(t, "pw")
	srv.Handle("status", "hostname: test\nplayers : 0 humans")

	cfg := config.DefaultConfig()
	cfg.Servers = []config.ServerConfig{{
		Name:              "alpha",
		Host:              srv.Host(),
		Port:              srv.Port(),
		Password:          "pw",
		Enabled:           true,
		TimeoutSec:        2,
		CommandTimeoutSec: 2,
	}, {
		Name:     "off",
		Host:     srv.Host(),
		Port:     srv.Port(),
		Password: "pw",
	}}
	appData := cfg.GetApplicationData()
	appData.API.Token = token
	appData.API.RateLimitRPS = 0
	appData.MQTT.Password = "mqtt-secret"
	cfg.SetApplicationData(appData)

	bus := events.NewBus()
	manager, err := server.NewManager(cfg, bus, rcon.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := manager.ConnectAll(context.Background()); err != nil {
		t.Fatalf("connect all: %v", err)
	}

	history, err := db.NewHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("new history: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		manager.DisconnectAll(ctx)
		bus.Stop()
		history.Close()
	})

	api := NewServer(cfg, manager, history)
	api.sampleHost = func() (util.HostUsage, error) {
		return util.HostUsage{CPUPercent: 12.5, MemoryUsedMB: 512, MemoryPercent: 40}, nil
	}

	return &testEnv{api: api, manager: manager, history: history, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.api.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPingIsPublic(t *testing.T) {
	env := newTestEnv(t, "secret")

	w := env.do(t, http.MethodGet, "/api/public/ping", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ping status %d", w.Code)
	}
	if got := decode(t, w)["service"]; got != "rconctl" {
		t.Fatalf("unexpected service %v", got)
	}
	if got := w.Header().Get("Server"); got != "rconctl" {
		t.Fatalf("security headers missing, Server=%q", got)
	}
}

func TestTokenAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/servers", tt.token, nil)
			if w.Code != tt.want {
				t.Fatalf("status %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/api/servers", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	body := decode(t, w)
	if body["total"].(float64) != 2 || body["ready"].(float64) != 1 {
		t.Fatalf("unexpected counts %v", body)
	}
}

func TestGetServer(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/api/servers/alpha", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	body := decode(t, w)
	if body["name"] != "alpha" || body["connected"] != true {
		t.Fatalf("unexpected info %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/servers/ghost", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown server status %d", w.Code)
	}
}

func TestCommand(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/servers/alpha/command", "",
		gin.H{"command": "status"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["response"]; got != "hostname: test\nplayers : 0 humans" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestCommandMultiPacket(t *testing.T) {
	env := newTestEnv(t, "")
	long := strings.Repeat("cvar ", 2000)
	env.srv.Handle("cvarlist", long)

	w := env.do(t, http.MethodPost, "/api/servers/alpha/command", "",
		gin.H{"command": "cvarlist", "multi_packet": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["response"]; got != long {
		t.Fatalf("response length %d, want %d", len(got.(string)), len(long))
	}
}

func TestCommandErrors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"missing command", "/api/servers/alpha/command", gin.H{}, http.StatusBadRequest},
		{"blank command", "/api/servers/alpha/command", gin.H{"command": "  "}, http.StatusBadRequest},
		{"unknown server", "/api/servers/ghost/command", gin.H{"command": "status"}, http.StatusNotFound},
		{"disabled server", "/api/servers/off/command", gin.H{"command": "status"}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, "", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if _, ok := decode(t, w)["error"]; !ok {
				t.Fatal("error body expected")
			}
		})
	}
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/broadcast", "", gin.H{"command": "status"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	body := decode(t, w)
	if body["total"].(float64) != 2 || body["failed"].(float64) != 1 {
		t.Fatalf("unexpected broadcast summary %v", body)
	}
}

func TestReconnect(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/servers/alpha/reconnect", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["status"] != "reconnected" {
		t.Fatal("unexpected reconnect body")
	}

	w = env.do(t, http.MethodPost, "/api/servers/ghost/reconnect", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown server status %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	id, err := env.history.RecordCommand(ctx, db.CommandRecord{Server: "alpha", Command: "status", Response: "ok"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := env.history.RecordCommand(ctx, db.CommandRecord{Server: "beta", Command: "users"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/history?server=alpha&limit=10", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode(t, w)["count"].(float64); got != 1 {
		t.Fatalf("count %v, want 1", got)
	}

	w = env.do(t, http.MethodGet, "/api/history/"+id, "", nil)
	if w.Code != http.StatusOK || decode(t, w)["command"] != "status" {
		t.Fatalf("entry lookup failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/history/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing entry status %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/history?limit=abc", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", w.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, "")
	env.api = NewServer(env.api.cfg, env.manager, nil)

	w := env.do(t, http.MethodGet, "/api/history", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", w.Code)
	}
}

func TestHostUsage(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/api/host", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode(t, w)["cpu_percent"]; got != 12.5 {
		t.Fatalf("cpu_percent %v", got)
	}
}

func TestConfigRedactsSecrets(t *testing.T) {
	env := newTestEnv(t, "secret")

	w := env.do(t, http.MethodGet, "/api/config", "secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	body := w.Body.String()
	for _, secret := range []string{`"pw"`, "mqtt-secret", `"secret"`} {
		if strings.Contains(body, secret) {
			t.Fatalf("config leaks %s: %s", secret, body)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of two should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", server.ErrUnknownServer), http.StatusNotFound},
		{server.ErrNotReady, http.StatusServiceUnavailable},
		{rcon.ErrNotConnected, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: eof", rcon.ErrConnectionClosed), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{server.ErrDisabled, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"Basic abc":     "",
		"Bearerabc":     "",
		"Bearer  abc  ": "abc",
	}
	for header, want := range tests {
		if got := extractBearerToken(header); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
