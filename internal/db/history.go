package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/events"
)

// maxResponseLen caps stored response bodies; cvarlist output can be large.
const maxResponseLen = 64 << 10

// CommandRecord is one executed command.
type CommandRecord struct {
	ID          string        `json:"id"`
	Server      string        `json:"server"`
	Command     string        `json:"command"`
	MultiPacket bool          `json:"multi_packet"`
	Response    string        `json:"response,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ConnectionRecord is one connection lifecycle event.
type ConnectionRecord struct {
	Server    string    `json:"server"`
	Event     string    `json:"event"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// History persists command and connection history.
type History struct {
	db *Database
}

// NewHistory opens the database at path and migrates the schema.
func NewHistory(path string) (*History, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	h := &History{db: database}
	if err := h.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return h, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			server TEXT NOT NULL,
			command TEXT NOT NULL,
			multi_packet INTEGER NOT NULL DEFAULT 0,
			response TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS connection_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			event TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_server_created ON commands(server, created_at);
		CREATE INDEX IF NOT EXISTS idx_commands_created ON commands(created_at);
		CREATE INDEX IF NOT EXISTS idx_connection_events_created ON connection_events(created_at);
	`

	if _, err := h.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("history schema migrated")
	return nil
}

// RecordCommand stores rec. An empty ID is filled with a new UUID and a zero
// CreatedAt with the current time.
func (h *History) RecordCommand(ctx context.Context, rec CommandRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if len(rec.Response) > maxResponseLen {
		rec.Response = rec.Response[:maxResponseLen]
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO commands (id, server, command, multi_packet, response, error, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Server, rec.Command, boolToInt(rec.MultiPacket), rec.Response, rec.Error,
		int64(rec.Duration), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record command: %w", err)
	}
	return rec.ID, nil
}

// RecordConnection stores a connection lifecycle event.
func (h *History) RecordConnection(ctx context.Context, rec ConnectionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO connection_events (server, event, error, created_at) VALUES (?, ?, ?, ?)`,
		rec.Server, rec.Event, rec.Error, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record connection event: %w", err)
	}
	return nil
}

// GetCommand returns the command with id.
func (h *History) GetCommand(ctx context.Context, id string) (CommandRecord, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, server, command, multi_packet, response, error, duration_ns, created_at
		 FROM commands WHERE id = ?`, id)

	rec, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CommandRecord{}, fmt.Errorf("command %s not found: %w", id, err)
	}
	return rec, err
}

// RecentCommands returns up to limit commands, newest first. An empty server
// matches all servers.
func (h *History) RecentCommands(ctx context.Context, server string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, server, command, multi_packet, response, error, duration_ns, created_at FROM commands`
	args := []any{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	out := []CommandRecord{}
	for rows.Next() {
		rec, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentConnections returns up to limit connection events, newest first.
func (h *History) RecentConnections(ctx context.Context, server string, limit int) ([]ConnectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT server, event, error, created_at FROM connection_events`
	args := []any{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection events: %w", err)
	}
	defer rows.Close()

	out := []ConnectionRecord{}
	for rows.Next() {
		var (
			rec ConnectionRecord
			ts  int64
		)
		if err := rows.Scan(&rec.Server, &rec.Event, &rec.Error, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}
		rec.CreatedAt = time.Unix(0, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes history older than cutoff and returns the number of rows
// removed.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := h.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"commands", "connection_events"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff.UnixNano())
			if err != nil {
				return fmt.Errorf("failed to prune %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Info().Int64("rows", removed).Time("cutoff", cutoff).Msg("history pruned")
	}
	return removed, nil
}

// Attach subscribes the history to command and connection events on bus.
func (h *History) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventCommandExecuted, "history.command", h.onCommand)
	bus.Subscribe(events.EventCommandFailed, "history.command", h.onCommand)
	for _, t := range []events.EventType{
		events.EventConnected, events.EventDisconnected,
		events.EventAuthenticated, events.EventAuthFailed,
	} {
		bus.Subscribe(t, "history.connection", h.onConnection)
	}
}

func (h *History) onCommand(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.CommandPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	_, err := h.RecordCommand(context.Background(), CommandRecord{
		ID:          p.RequestID,
		Server:      p.Server,
		Command:     p.Command,
		MultiPacket: p.MultiPacket,
		Response:    p.Response,
		Error:       p.Error,
		Duration:    p.Duration,
		CreatedAt:   p.At,
	})
	return err
}

func (h *History) onConnection(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ConnectionPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return h.RecordConnection(context.Background(), ConnectionRecord{
		Server:    p.Server,
		Event:     string(event.Type),
		Error:     p.Error,
		CreatedAt: p.At,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(r rowScanner) (CommandRecord, error) {
	var (
		rec   CommandRecord
		multi int
		dur   int64
		ts    int64
	)
	if err := r.Scan(&rec.ID, &rec.Server, &rec.Command, &multi, &rec.Response, &rec.Error, &dur, &ts); err != nil {
		return CommandRecord{}, err
	}
	rec.MultiPacket = multi != 0
	rec.Duration = time.Duration(dur)
	rec.CreatedAt = time.Unix(0, ts)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
