// Package cmd provides the gatekeeper CLI's commands: serve, hash-key, and
// version, mirroring the teacher's cmd/sentinel-gate/cmd package shape.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgateway/gatekeeper/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "gatekeeper - policy-enforcing gateway for tool-calling agents",
	Long: `gatekeeper sits between autonomous tool-calling agents and a fleet of
registered tool-providing backends, enforcing authentication, role-based
policy, rate limits, and a tamper-evident audit log on every tool call.

Configuration is loaded from gatekeeper.yaml in the current directory,
$HOME/.gatekeeper/, or /etc/gatekeeper/, or from the file given by --config.
Environment variables with the GATEKEEPER_ prefix override config values,
e.g. GATEKEEPER_SERVER_TOOL_ADDR=:9000.

Commands:
  serve       Start the gateway
  hash-key    Generate a SHA-256 hash for a pre-shared credential
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gatekeeper.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
