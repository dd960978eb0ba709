package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/internal/pool"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/store"
)

var (
	runWorkers   int
	runWorkspace string
	runModel     string
	runBinary    string
)

var runCmd = &cobra.Command{
	Use:   "run <instruction>",
	Short: "Run an instruction through the agent fleet",
	Long: `Run an instruction end to end.

The coordinator decomposes the instruction into tasks with dependencies
and priorities, workers execute ready tasks in parallel, and every
completed task is reviewed before its changes are committed.

Task state is persisted to .hive/state.db in the workspace, so an
interrupted run can be inspected with 'hive status' and unfinished tasks
are re-queued on the next run.

Examples:
  hive run "add input validation to the signup form"
  hive run --workers 4 "migrate the config loader to YAML"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker replica count (overrides config)")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "Workspace directory (overrides config)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model passed to the agent CLI (overrides config)")
	runCmd.Flags().StringVar(&runBinary, "binary", "", "Agent CLI binary (overrides config)")
}

func runInstruction(cmd *cobra.Command, args []string) error {
	instruction := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runWorkers > 0 {
		cfg.Pool.Workers = runWorkers
	}
	if runWorkspace != "" {
		cfg.Workspace = runWorkspace
	}
	if runModel != "" {
		cfg.Defaults.Model = runModel
	}
	if runBinary != "" {
		cfg.Binary = runBinary
	}
	if cfg.Workspace == "" || cfg.Workspace == "." {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		cfg.Workspace = cwd
	}

	if err := CheckAgentCLI(cfg.Binary); err != nil {
		return err
	}

	db, err := state.OpenProject(cfg.Workspace)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	emitter := events.NewEmitter("hive", 256)
	done := make(chan struct{})
	go printEvents(emitter.Events(), done)

	st := store.New(store.WithDB(db), store.WithEmitter(emitter))
	if err := st.Recover(); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	p := pool.New(cfg, st, emitter)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	// The project config file can resize the fleet while a run is active.
	config.Watch(func(next *config.Config) {
		if next.Pool.Workers > 0 && next.Pool.Workers != p.Workers() {
			if err := p.ScaleTo(next.Pool.Workers); err == nil {
				emitter.Log(events.SeverityInfo, "", "", "pool resized to %d workers", next.Pool.Workers)
			}
		}
	})

	result, err := p.Submit(ctx, instruction)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Supervisor.GracePeriod*4)
	defer shutdownCancel()
	if stopErr := p.Shutdown(shutdownCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	emitter.Close()
	<-done

	if err != nil {
		return err
	}
	printResult(result.TaskIDs, result.Completed, result.Failed)
	if !result.Success() {
		os.Exit(1)
	}
	return nil
}

func printEvents(ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range ch {
		switch ev.Type {
		case events.TypeLogEntry:
			printLog(ev)
		case events.TypeTaskUpdate:
			fmt.Printf("  task %s: %s\n", shortID(ev.TaskID), ev.TaskStatus)
		case events.TypeAgentStatus:
			fmt.Printf("  agent %s: %s\n", ev.AgentID, ev.ProcessStatus)
		}
	}
}

func printLog(ev events.Event) {
	prefix := ev.AgentID
	if prefix == "" {
		prefix = ev.Service
	}
	line := fmt.Sprintf("[%s] %s", prefix, ev.Message)
	switch ev.Severity {
	case events.SeverityError:
		color.Red(line)
	case events.SeverityWarn:
		color.Yellow(line)
	case events.SeverityDebug:
		color.HiBlack(line)
	default:
		fmt.Println(line)
	}
}

func printResult(taskIDs []string, completed int, failed []string) {
	fmt.Println()
	if len(failed) == 0 && completed == len(taskIDs) {
		color.Green("All %d tasks completed.", len(taskIDs))
		return
	}
	color.Yellow("%d/%d tasks completed.", completed, len(taskIDs))
	for _, id := range failed {
		color.Red("  failed: %s", shortID(id))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
