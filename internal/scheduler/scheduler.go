// Package scheduler runs configured periodic RCON commands and the history
// retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/server"
)

// BroadcastTarget selects every server.
const BroadcastTarget = "*"

const pruneInterval = 6 * time.Hour

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	servers *server.Manager
	history *db.History
}

// NewScheduler creates a scheduler. history may be nil.
func NewScheduler(cfg *config.Config, servers *server.Manager, history *db.History) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		servers: servers,
		history: history,
	}
}

// Start runs every enabled task and blocks until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	app := s.cfg.GetApplicationData()

	started := 0
	for _, task := range app.Scheduler {
		if !task.Enabled || task.IntervalSec <= 0 {
			continue
		}
		started++
		go s.runTaskLoop(ctx, task)
	}

	if s.history != nil && app.History.RetentionDays > 0 {
		go s.runPruneLoop(ctx, time.Duration(app.History.RetentionDays)*24*time.Hour)
	}

	log.Info().Int("tasks", started).Msg("scheduler started")

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task config.TaskConfig) {
	ticker := time.NewTicker(time.Duration(task.IntervalSec) * time.Second)
	defer ticker.Stop()

	log.Debug().
		Str("task", task.Name).
		Str("target", task.Target).
		Int("interval_sec", task.IntervalSec).
		Msg("task scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunTask(ctx, task)
		}
	}
}

// RunTask executes task once against its target and returns the per-server
// results.
func (s *Scheduler) RunTask(ctx context.Context, task config.TaskConfig) []server.BroadcastResult {
	var results []server.BroadcastResult
	if task.Target == BroadcastTarget {
		results = s.servers.Broadcast(ctx, task.Command, task.MultiPacket)
	} else {
		res := server.BroadcastResult{Server: task.Target}
		resp, err := s.servers.Execute(ctx, task.Target, task.Command, task.MultiPacket)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Response = resp
		}
		results = []server.BroadcastResult{res}
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			log.Warn().Str("task", task.Name).Str("server", r.Server).Str("error", r.Error).Msg("scheduled command failed")
		}
	}
	log.Info().
		Str("task", task.Name).
		Int("servers", len(results)).
		Int("failed", failed).
		Msg("scheduled command ran")
	return results
}

func (s *Scheduler) runPruneLoop(ctx context.Context, retention time.Duration) {
	s.prune(ctx, retention)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx, retention)
		}
	}
}

func (s *Scheduler) prune(ctx context.Context, retention time.Duration) {
	removed, err := s.history.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Warn().Err(err).Msg("history prune failed")
		return
	}
	log.Debug().
		Int64("rows", removed).
		Str("retention", formatDays(retention)).
		Msg("history retention applied")
}

func formatDays(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
