// Package cli implements the interactive RCON console: server status tables,
// command execution against a selected server, broadcast and history.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/server"
	"github.com/energizer-project/rconctl/internal/util"
)

// ServerManager is the part of server.Manager the console drives.
type ServerManager interface {
	GetAllInfo() []server.InstanceInfo
	GetInfo(name string) (server.InstanceInfo, error)
	Execute(ctx context.Context, name, command string, multiPacket bool) (string, error)
	Broadcast(ctx context.Context, command string, multiPacket bool) []server.BroadcastResult
	Reconnect(ctx context.Context, name string) error
	ReconnectDown(ctx context.Context) int
}

// HistoryReader lists recorded commands.
type HistoryReader interface {
	RecentCommands(ctx context.Context, server string, limit int) ([]db.CommandRecord, error)
}

const defaultHistoryRows = 10

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	bus     *events.Bus
	manager ServerManager
	history HistoryReader
	logger  zerolog.Logger

	in  io.Reader
	out io.Writer

	selected string
}

// NewCLI creates a console reading stdin and writing stdout. bus and history
// may be nil.
func NewCLI(bus *events.Bus, manager ServerManager, history HistoryReader) *CLI {
	c := &CLI{
		bus:     bus,
		manager: manager,
		history: history,
		logger:  util.ComponentLogger("cli"),
		in:      os.Stdin,
		out:     os.Stdout,
	}

	// A single configured server is selected up front.
	if infos := manager.GetAllInfo(); len(infos) == 1 {
		c.selected = infos[0].Name
	}
	return c
}

// SetIO replaces the console input and output.
func (c *CLI) SetIO(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
}

// Selected returns the server bare lines are sent to.
func (c *CLI) Selected() string {
	return c.selected
}

// Start runs the read loop until quit, end of input or ctx cancellation.
func (c *CLI) Start(ctx context.Context) error {
	c.printf("\nrconctl console ready. Type 'help' for available commands.\n")
	c.printf("─────────────────────────────────────────────────────\n")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		c.printf("%s", c.prompt())

		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			c.printf("\n")
			return err
		case line = <-lines:
		}

		err := c.Execute(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			c.printf("Error: %v\n", err)
		}
	}
}

func (c *CLI) prompt() string {
	if c.selected == "" {
		return "rcon> "
	}
	return fmt.Sprintf("rcon(%s)> ", c.selected)
}

// Execute processes a single console line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.cmdStatus(args)
	case "use":
		return c.cmdUse(args)
	case "exec":
		return c.cmdExec(ctx, rest, false)
	case "multi":
		return c.cmdExec(ctx, rest, true)
	case "broadcast", "all":
		return c.cmdBroadcast(ctx, rest)
	case "reconnect":
		return c.cmdReconnect(ctx, args)
	case "history":
		return c.cmdHistory(ctx, args)
	case "quit", "exit", "q":
		c.printf("Shutting down...\n")
		if c.bus != nil {
			c.bus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		}
		return errQuit
	default:
		return c.cmdExec(ctx, line, false)
	}
	return nil
}

func (c *CLI) printHelp() {
	c.printf("\nCommands:\n")
	c.printf("  status [server]      Show status of all or one server\n")
	c.printf("  use <server>         Select the server bare lines are sent to\n")
	c.printf("  exec <command>       Run a command on the selected server\n")
	c.printf("  multi <command>      Run a command expecting a multi-packet response\n")
	c.printf("  broadcast <command>  Run a command on every server\n")
	c.printf("  reconnect [server]   Reconnect one server, or every server that is down\n")
	c.printf("  history [n]          Show the last n commands\n")
	c.printf("  quit                 Exit\n")
	c.printf("  help                 Show this help message\n")
	c.printf("Any other line is sent to the selected server.\n\n")
}

func (c *CLI) cmdStatus(args []string) error {
	if len(args) > 0 {
		info, err := c.manager.GetInfo(args[0])
		if err != nil {
			return err
		}
		c.printServerDetail(info)
		return nil
	}

	c.printf("\n")
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Name", "Address", "Status", "Uptime", "Commands", "Failures", "Avg ms", "Last Error"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, inst := range c.manager.GetAllInfo() {
		name := inst.Name
		if name == c.selected {
			name = "*" + name
		}
		uptime := inst.State.Uptime
		if uptime == "" {
			uptime = "-"
		}
		tw.Append([]string{
			name,
			inst.Address,
			inst.State.Status.String(),
			uptime,
			strconv.Itoa(inst.State.Commands),
			strconv.Itoa(inst.State.Failures),
			fmt.Sprintf("%.1f", inst.State.AvgLatencyMs),
			inst.State.LastError,
		})
	}

	tw.Render()
	c.printf("\n")
	return nil
}

func (c *CLI) printServerDetail(inst server.InstanceInfo) {
	c.printf("\n  Name:         %s\n", inst.Name)
	c.printf("  Address:      %s\n", inst.Address)
	c.printf("  Status:       %s\n", inst.State.Status)
	c.printf("  Enabled:      %v\n", inst.Enabled)
	c.printf("  Encoding:     %s\n", inst.Encoding)
	c.printf("  Multi-packet: %v\n", inst.MultiPacket)
	if inst.State.ConnectedAt != nil {
		c.printf("  Connected at: %s\n", inst.State.ConnectedAt.Format(time.RFC3339))
	}
	if inst.LastActivity != nil {
		c.printf("  Last active:  %s\n", inst.LastActivity.Format(time.RFC3339))
	}
	c.printf("  Commands:     %d (%d failed)\n", inst.State.Commands, inst.State.Failures)
	c.printf("  Pending:      %d\n", inst.Pending)
	c.printf("  Latency:      avg %.1fms, max %.1fms\n", inst.State.AvgLatencyMs, inst.State.MaxLatencyMs)
	c.printf("  Reconnects:   %d\n", inst.State.Reconnects)
	if inst.State.LastError != "" {
		c.printf("  Last error:   %s\n", inst.State.LastError)
	}
	c.printf("\n")
}

func (c *CLI) cmdUse(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: use <server>")
	}
	if _, err := c.manager.GetInfo(args[0]); err != nil {
		return err
	}
	c.selected = args[0]
	c.printf("Using %s\n", c.selected)
	return nil
}

func (c *CLI) cmdExec(ctx context.Context, command string, forceMulti bool) error {
	if command == "" {
		return fmt.Errorf("command required")
	}
	if c.selected == "" {
		return fmt.Errorf("no server selected, run 'use <server>' first")
	}

	info, err := c.manager.GetInfo(c.selected)
	if err != nil {
		return err
	}

	resp, err := c.manager.Execute(ctx, c.selected, command, forceMulti || info.MultiPacket)
	if err != nil {
		return err
	}
	c.printResponse(resp)
	return nil
}

func (c *CLI) cmdBroadcast(ctx context.Context, command string) error {
	if command == "" {
		return fmt.Errorf("usage: broadcast <command>")
	}

	for _, r := range c.manager.Broadcast(ctx, command, false) {
		c.printf("[%s]\n", r.Server)
		if r.Error != "" {
			c.printf("Error: %s\n", r.Error)
			continue
		}
		c.printResponse(r.Response)
	}
	return nil
}

func (c *CLI) cmdReconnect(ctx context.Context, args []string) error {
	if len(args) > 0 {
		if err := c.manager.Reconnect(ctx, args[0]); err != nil {
			return err
		}
		c.printf("Reconnected %s\n", args[0])
		return nil
	}

	restored := c.manager.ReconnectDown(ctx)
	c.printf("Reconnected %d server(s)\n", restored)
	return nil
}

func (c *CLI) cmdHistory(ctx context.Context, args []string) error {
	if c.history == nil {
		return fmt.Errorf("command history is disabled")
	}

	limit := defaultHistoryRows
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	records, err := c.history.RecentCommands(ctx, c.selected, limit)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Server", "Command", "Duration", "Result"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, rec := range records {
		result := "ok"
		if rec.Error != "" {
			result = rec.Error
		}
		tw.Append([]string{
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Server,
			rec.Command,
			rec.Duration.Round(time.Millisecond).String(),
			result,
		})
	}

	tw.Render()
	return nil
}

func (c *CLI) printResponse(resp string) {
	if resp == "" {
		c.printf("(empty response)\n")
		return
	}
	c.printf("%s", resp)
	if !strings.HasSuffix(resp, "\n") {
		c.printf("\n")
	}
}

func (c *CLI) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.logger.Debug().Err(err).Msg("console write failed")
	}
}
