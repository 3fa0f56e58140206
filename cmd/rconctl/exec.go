package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/protocol"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

type execFlags struct {
	server   string
	host     string
	port     int
	password string
	encoding string
	multi    bool
	timeout  time.Duration
}

var execOpts execFlags

var execCmd = &cobra.Command{
	Use:   "exec [flags] command...",
	Short: "Connect, authenticate, run one command and print the response",
	Example: `  rconctl exec --host 10.0.0.5 --password secret status
  rconctl exec --multi --password secret cvarlist
  rconctl exec --server alpha users`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.InitLogger(util.LogConfig{Level: "warn", Console: true, ConsoleOut: os.Stderr}); err != nil {
			return err
		}

		target, err := resolveExecTarget(cmd, execOpts)
		if err != nil {
			return err
		}

		resp, err := execOnce(cmd.Context(), target, strings.Join(args, " "), execOpts.multi || target.MultiPacket, execOpts.timeout)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprint(out, resp)
		if !strings.HasSuffix(resp, "\n") {
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	f := execCmd.Flags()
	f.StringVar(&execOpts.server, "server", "", "use host, port and password of a configured server")
	f.StringVar(&execOpts.host, "host", "127.0.0.1", "server host")
	f.IntVar(&execOpts.port, "port", config.DefaultRCONPort, "server RCON port")
	f.StringVar(&execOpts.password, "password", os.Getenv("RCON_PASSWORD"), "rcon password (default $RCON_PASSWORD)")
	f.StringVar(&execOpts.encoding, "encoding", "utf-8", "text encoding of packet bodies")
	f.BoolVar(&execOpts.multi, "multi", false, "expect a multi-packet response")
	f.DurationVar(&execOpts.timeout, "timeout", config.DefaultTimeoutSec*time.Second, "dial and command timeout")
	rootCmd.AddCommand(execCmd)
}

// resolveExecTarget merges a configured server with explicitly set flags.
func resolveExecTarget(cmd *cobra.Command, opts execFlags) (config.ServerConfig, error) {
	target := config.ServerConfig{
		Name:     "exec",
		Host:     opts.host,
		Port:     opts.port,
		Password: opts.password,
		Encoding: opts.encoding,
	}

	if opts.server != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return target, fmt.Errorf("failed to load configuration: %w", err)
		}
		srv, ok := cfg.GetServer(opts.server)
		if !ok {
			return target, fmt.Errorf("server %q is not configured", opts.server)
		}
		flags := cmd.Flags()
		if !flags.Changed("host") {
			target.Host = srv.Host
		}
		if !flags.Changed("port") {
			target.Port = srv.Port
		}
		if !flags.Changed("password") {
			target.Password = srv.Password
		}
		if !flags.Changed("encoding") && srv.Encoding != "" {
			target.Encoding = srv.Encoding
		}
		target.Name = srv.Name
		target.MultiPacket = srv.MultiPacket
	}

	if target.Password == "" {
		return target, errors.New("a password is required (--password or $RCON_PASSWORD)")
	}
	return target, nil
}

// execOnce runs a single command on a fresh connection.
func execOnce(ctx context.Context, target config.ServerConfig, command string, multi bool, timeout time.Duration) (string, error) {
	codec, err := protocol.CodecByName(target.Encoding)
	if err != nil {
		return "", err
	}
	if _, err := network.NewTCPTransport(target.Host, target.Port, timeout); err != nil {
		return "", err
	}

	client := rcon.NewClient(func() (network.Transport, error) {
		return network.NewTCPTransport(target.Host, target.Port, timeout)
	}, rcon.WithCodec(codec), rcon.WithLogger(util.ComponentLogger("exec")))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return "", fmt.Errorf("connect %s: %w", target.Address(), err)
	}
	defer client.Disconnect()

	ok, err := client.Authenticate(ctx, target.Password)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return "", errors.New("rcon password rejected")
	}

	return client.ExecuteCommand(ctx, command, multi)
}
