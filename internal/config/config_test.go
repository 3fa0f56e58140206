package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path() != path {
		t.Fatalf("unexpected path %s", cfg.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if got := cfg.GetApplicationData().API.Port; got != DefaultAPIPort {
		t.Fatalf("expected default API port, got %d", got)
	}
}

func TestLoadJSONOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("RCONCTL_TEST_PASSWORD", "from-env")
	data := `{
  "servers": [
    {"name": "eu1", "host": "10.0.0.5", "port": 27015, "password": "${RCONCTL_TEST_PASSWORD}", "enabled": true}
  ],
  "application_data": {"api": {"port": 9000}}
}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	srv, ok := cfg.GetServer("eu1")
	if !ok {
		t.Fatal("server eu1 missing")
	}
	if srv.Password != "from-env" {
		t.Fatalf("environment not expanded, got %q", srv.Password)
	}
	if srv.Address() != "10.0.0.5:27015" {
		t.Fatalf("unexpected address %s", srv.Address())
	}

	app := cfg.GetApplicationData()
	if app.API.Port != 9000 {
		t.Fatalf("expected API port 9000, got %d", app.API.Port)
	}
	if app.Timers.HealthInterval != 30 {
		t.Fatalf("defaults should survive overlay, got %d", app.Timers.HealthInterval)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rconctl.yaml")
	data := `
servers:
  - name: local
    host: 127.0.0.1
    port: 27016
    password: pw
    encoding: windows-1252
    enabled: true
    multi_packet: true
application_data:
  scheduler:
    - name: announce
      target: "*"
      command: say hello
      interval_sec: 300
      enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	servers := cfg.GetServers()
	if len(servers) != 1 || !servers[0].MultiPacket || servers[0].Encoding != "windows-1252" {
		t.Fatalf("unexpected servers %+v", servers)
	}
	if tasks := cfg.GetApplicationData().Scheduler; len(tasks) != 1 || tasks[0].Target != "*" {
		t.Fatalf("unexpected scheduler tasks %+v", tasks)
	}
	if r := Validate(cfg); !r.IsValid() {
		t.Fatalf("expected valid config, got %v", r.Errors)
	}
}

func TestSaveRoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yml")
	cfg := DefaultConfig()
	cfg.SetPath(path)
	cfg.UpsertServer(ServerConfig{Name: "a", Host: "h", Port: 1, Password: "p"})
	cfg.UpsertServer(ServerConfig{Name: "a", Host: "h2", Port: 2, Password: "p"})

	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		t.Fatal("yaml path should not be written as JSON")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	servers := loaded.GetServers()
	if len(servers) != 1 || servers[0].Host != "h2" {
		t.Fatalf("upsert should replace by name, got %+v", servers)
	}
	if !loaded.RemoveServer("a") || loaded.RemoveServer("a") {
		t.Fatal("RemoveServer should succeed exactly once")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("bad.json", []byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing host", func(c *Config) {
			c.Servers[0].Host = ""
		}, "servers[0].host"},
		{"bad port", func(c *Config) {
			c.Servers[0].Port = 70000
		}, "servers[0].port"},
		{"enabled without password", func(c *Config) {
			c.Servers[0].Password = ""
		}, "servers[0].password"},
		{"duplicate name", func(c *Config) {
			c.Servers = append(c.Servers, c.Servers[0])
		}, "servers[1].name"},
		{"unknown encoding", func(c *Config) {
			c.Servers[0].Encoding = "klingon"
		}, "servers[0].encoding"},
		{"task for unknown server", func(c *Config) {
			c.ApplicationData.Scheduler = []TaskConfig{{Name: "t", Target: "nope", Command: "status", IntervalSec: 10}}
		}, "application_data.scheduler[0].target"},
		{"mqtt without broker", func(c *Config) {
			c.ApplicationData.MQTT.Enabled = true
		}, "application_data.mqtt.broker_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Servers = []ServerConfig{{Name: "s", Host: "127.0.0.1", Port: 27015, Password: "pw", Enabled: true}}
			tt.mutate(cfg)

			r := Validate(cfg)
			for _, e := range r.Errors {
				if e.Field == tt.field {
					return
				}
			}
			t.Fatalf("expected error on %s, got %v", tt.field, r.Errors)
		})
	}
}
