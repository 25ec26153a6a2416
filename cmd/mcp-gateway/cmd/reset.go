package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiberplane/mcp-gateway/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the gateway to a clean state",
	Long: `Reset the gateway by removing its captured storage directory
(the sqlite database, WAL files, and migration latch).

On next start, the gateway boots with an empty logs/sessions/servers
database.

Examples:
  # Reset storage (interactive confirmation)
  mcp-gateway reset

  # Reset without prompting
  mcp-gateway reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, err := os.Stat(cfg.Storage.Dir); os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no storage directory found.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "The following will be removed:\n  - %s (captured storage)\n", cfg.Storage.Dir)

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	if err := os.RemoveAll(cfg.Storage.Dir); err != nil {
		return fmt.Errorf("failed to remove storage directory: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Reset complete. The gateway will start fresh on next launch.")
	return nil
}
