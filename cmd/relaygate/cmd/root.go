// Package cmd provides the CLI commands for the relay gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relaygate",
	Short: "relaygate - agent protocol gateway",
	Long: `relaygate fronts MCP, A2A, and OpenAPI-described services behind a single
relay, synthesizing MCP tools from OpenAPI documents, enforcing RBAC policy
per listener, and merging tool/resource/prompt catalogs across upstream
targets.

Quick start:
  1. Create a config file: relaygate.yaml
  2. Run: relaygate run

Configuration:
  Config is loaded from relaygate.yaml in the current directory,
  $HOME/.relaygate/, or /etc/relaygate/.

  Environment variables can override config values with the RELAYGATE_ prefix.
  Example: RELAYGATE_CONTROL_PLANE_ADDRESS=xds.internal:18000

Commands:
  run         Run the gateway
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./relaygate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
