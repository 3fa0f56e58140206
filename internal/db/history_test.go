package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/rconctl/internal/events"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndQueryCommands(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i, rec := range []CommandRecord{
		{Server: "alpha", Command: "status", Response: "ok"},
		{Server: "beta", Command: "cvarlist", MultiPacket: true, Response: "long"},
		{Server: "alpha", Command: "kick bob", Error: "rcon: connection closed"},
	} {
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		rec.Duration = 15 * time.Millisecond
		id, err := h.RecordCommand(ctx, rec)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if id == "" {
			t.Fatal("expected a generated id")
		}
	}

	all, err := h.RecentCommands(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Command != "kick bob" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	alpha, err := h.RecentCommands(ctx, "alpha", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(alpha) != 1 || alpha[0].Error == "" {
		t.Fatalf("unexpected alpha history %+v", alpha)
	}

	got, err := h.GetCommand(ctx, all[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.MultiPacket || got.Duration != 15*time.Millisecond || got.Server != "beta" {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := h.GetCommand(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	now := time.Now()

	h.RecordCommand(ctx, CommandRecord{Server: "a", Command: "old", CreatedAt: now.Add(-48 * time.Hour)})
	h.RecordCommand(ctx, CommandRecord{Server: "a", Command: "new", CreatedAt: now})
	h.RecordConnection(ctx, ConnectionRecord{Server: "a", Event: "connected", CreatedAt: now.Add(-48 * time.Hour)})

	removed, err := h.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows pruned, got %d", removed)
	}

	left, _ := h.RecentCommands(ctx, "", 10)
	if len(left) != 1 || left[0].Command != "new" {
		t.Fatalf("unexpected remaining history %+v", left)
	}
}

func TestAttachRecordsEvents(t *testing.T) {
	h := newTestHistory(t)
	bus := events.NewBus()
	h.Attach(bus)

	ctx := context.Background()
	bus.Emit(ctx, events.Event{
		Type:   events.EventCommandExecuted,
		Source: "alpha",
		Payload: events.CommandPayload{
			RequestID: "5f0c6b1e-0000-4000-8000-000000000001",
			Server:    "alpha",
			Command:   "status",
			Response:  "ok",
			At:        time.Now(),
		},
	})
	bus.Emit(ctx, events.Event{
		Type:    events.EventDisconnected,
		Source:  "alpha",
		Payload: events.ConnectionPayload{Server: "alpha", Error: "EOF", At: time.Now()},
	})
	bus.Wait()

	rec, err := h.GetCommand(ctx, "5f0c6b1e-0000-4000-8000-000000000001")
	if err != nil {
		t.Fatalf("command not recorded: %v", err)
	}
	if rec.Response != "ok" {
		t.Fatalf("unexpected record %+v", rec)
	}

	conns, err := h.RecentConnections(ctx, "alpha", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 1 || conns[0].Event != string(events.EventDisconnected) || conns[0].Error != "EOF" {
		t.Fatalf("unexpected connection history %+v", conns)
	}
}
