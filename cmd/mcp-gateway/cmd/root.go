// Package cmd provides the CLI commands for the MCP observability gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiberplane/mcp-gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcp-gateway",
	Short: "mcp-gateway - MCP observability gateway",
	Long: `mcp-gateway proxies JSON-RPC traffic to one or more upstream MCP
servers and durably captures every request, response, notification, and
SSE event for later inspection.

Quick start:
  1. Create a config file: mcp-gateway.yaml
  2. Run: mcp-gateway start

Configuration:
  Config is loaded from mcp-gateway.yaml in the current directory,
  $HOME/.mcp-gateway/, or /etc/mcp-gateway/.

  Environment variables override config values with the MCP_GATEWAY_
  prefix (e.g. MCP_GATEWAY_SERVER_PORT=9090), plus the bare names
  documented for STORAGE_DIR, PORT, LOG_LEVEL, and MCP_GATEWAY_TOKEN.

Commands:
  start       Start the gateway
  stop        Stop the running gateway
  reset       Truncate captured storage
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-gateway.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
