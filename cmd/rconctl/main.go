// rconctl - Source RCON administration daemon and console.
//
// rconctl keeps authenticated RCON connections to a fleet of Source engine
// game servers, exposes them through a REST API and an interactive console,
// runs scheduled commands, records command history and publishes telemetry
// via MQTT.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/config"
)

const (
	AppName    = "rconctl"
	AppVersion = "1.0.0"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rconctl",
	Short: "Source RCON administration daemon and console",
	Long: `rconctl manages authenticated RCON sessions to Source engine game servers.
It can run as a daemon with a REST API, health checks, scheduled commands and
MQTT telemetry, as an interactive console, or as a one-shot command runner.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the rconctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", AppName, AppVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file (.json, .yaml or .yml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
