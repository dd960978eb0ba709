package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the configured agent binary is available.
// Returns an error with installation instructions if not found.
func CheckAgentCLI(binary string) error {
	_, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%s not found in PATH\n\n"+
			"Hive drives an external agent CLI for every worker.\n\n"+
			"Install the Claude Code CLI with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"or point hive at another binary via the 'binary' config key", binary)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-agent task orchestrator",
	Long: `Hive coordinates a fleet of agent processes over an external CLI.

A coordinator agent decomposes an instruction into a dependency graph of
tasks, a scheduler hands ready tasks to idle workers, and each worker
executes its task, self-tests the result, and retries until it passes or
the attempt budget runs out. The coordinator reviews completed work,
commits what it approves, and files bounded remediation tasks for the
rest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
