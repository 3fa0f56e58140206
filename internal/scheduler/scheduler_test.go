package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/server"
	"github.com/energizer-project/rconctl/internal/testutil/rcontest"
)

func newServers(t *testing.T, servers ...config.ServerConfig) (*config.Config, *server.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Servers = servers

	bus := events.NewBus()
	m, err := server.NewManager(cfg, bus, rcon.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.ConnectAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.DisconnectAll(ctx)
		bus.Stop()
	})
	return cfg, m
}

func target(name string, srv *rcontest.Server) config.ServerConfig {
	return config.ServerConfig{Name: name, Host: srv.Host(), Port: srv.Port(), Password: "pw", Enabled: true}
}

func TestRunTaskSingleTarget(t *testing.T) {
	srv := rcontest.NewServer(t, "pw")
	srv.Handle("say hello", "Console: hello")
	cfg, servers := newServers(t, target("alpha", srv))
	s := NewScheduler(cfg, servers, nil)

	results := s.RunTask(context.Background(), config.TaskConfig{Name: "greet", Target: "alpha", Command: "say hello"})
	if len(results) != 1 || results[0].Response != "Console: hello" || results[0].Error != "" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestRunTaskBroadcast(t *testing.T) {
	a := rcontest.NewServer(t, "pw")
	b := rcontest.NewServer(t, "pw")
	a.Handle("status", "a")
	b.Handle("status", "b")
	cfg, servers := newServers(t, target("a", a), target("b", b))
	s := NewScheduler(cfg, servers, nil)

	results := s.RunTask(context.Background(), config.TaskConfig{Name: "poll", Target: BroadcastTarget, Command: "status"})
	if len(results) != 2 || results[0].Response != "a" || results[1].Response != "b" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestRunTaskUnknownTarget(t *testing.T) {
	srv := rcontest.NewServer(t, "pw")
	cfg, servers := newServers(t, target("alpha", srv))
	s := NewScheduler(cfg, servers, nil)

	results := s.RunTask(context.Background(), config.TaskConfig{Name: "x", Target: "ghost", Command: "status"})
	if len(results) != 1 || results[0].Error == "" {
		t.Fatalf("expected an error result, got %+v", results)
	}
}

func TestPruneRemovesOldHistory(t *testing.T) {
	srv := rcontest.NewServer(t, "pw")
	cfg, servers := newServers(t, target("alpha", srv))

	h, err := db.NewHistory(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ctx := context.Background()
	h.RecordCommand(ctx, db.CommandRecord{Server: "alpha", Command: "old", CreatedAt: time.Now().AddDate(0, 0, -40)})
	h.RecordCommand(ctx, db.CommandRecord{Server: "alpha", Command: "fresh"})

	s := NewScheduler(cfg, servers, h)
	s.prune(ctx, 30*24*time.Hour)

	left, err := h.RecentCommands(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Command != "fresh" {
		t.Fatalf("unexpected history after prune %+v", left)
	}
}

func TestFormatDays(t *testing.T) {
	if got := formatDays(24 * time.Hour); got != "1 day" {
		t.Fatalf("got %q", got)
	}
	if got := formatDays(30 * 24 * time.Hour); got != "30 days" {
		t.Fatalf("got %q", got)
	}
}
