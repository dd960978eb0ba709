package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted task and agent state",
	Long: `Display the saved state of the current project.

Shows every task in the project database grouped by status, plus the
last known agent roster. State is written through on every transition,
so after an interrupted run this reflects exactly where work stopped.

Use -o yaml for machine-readable output.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "", "Output format: yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No state found. Run 'hive run <instruction>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	tasks, err := db.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	agents, err := db.LoadAgents()
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}

	if statusOutput == "yaml" {
		return dumpYAML(tasks, agents)
	}

	displayTasks(tasks)
	fmt.Println()
	displayAgents(agents)
	return nil
}

func dumpYAML(tasks []*models.Task, agents []*models.Agent) error {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	out, err := yaml.Marshal(struct {
		Tasks  []*models.Task  `yaml:"tasks"`
		Agents []*models.Agent `yaml:"agents"`
	}{tasks, agents})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func displayTasks(tasks []*models.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks recorded.")
		return
	}

	counts := map[models.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Printf("Tasks: %d total", len(tasks))
	for _, s := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusReady,
		models.TaskStatusAssigned, models.TaskStatusInProgress,
		models.TaskStatusCompleted, models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		if counts[s] > 0 {
			fmt.Printf("  %s %d", s, counts[s])
		}
	}
	fmt.Println()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	for _, t := range tasks {
		marker, c := statusMarker(t.Status)
		c.Printf("  %s %s  %s", marker, shortID(t.ID), t.Title)
		if t.AttemptCount > 0 && !t.Status.Terminal() {
			fmt.Printf(" (attempt %d/%d)", t.AttemptCount, t.MaxAttempts)
		}
		if t.Status == models.TaskStatusFailed && t.LastError != "" {
			fmt.Printf(": %s", t.LastError)
		}
		fmt.Println()
	}
}

func displayAgents(agents []*models.Agent) {
	if len(agents) == 0 {
		fmt.Println("No agents recorded.")
		return
	}
	fmt.Printf("Agents: %d\n", len(agents))
	for _, a := range agents {
		line := fmt.Sprintf("  %s (%s) %s", a.ID, a.Role, a.ProcessStatus)
		if a.CurrentTaskID != "" {
			line += fmt.Sprintf(" on %s", shortID(a.CurrentTaskID))
		}
		if a.RestartCount > 0 {
			line += fmt.Sprintf(", %d restarts", a.RestartCount)
		}
		switch a.ProcessStatus {
		case models.ProcessRunning:
			color.Green(line)
		case models.ProcessError:
			color.Red(line)
		default:
			fmt.Println(line)
		}
	}
}

func statusMarker(s models.TaskStatus) (string, *color.Color) {
	switch s {
	case models.TaskStatusCompleted:
		return "✓", color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return "✗", color.New(color.FgRed)
	case models.TaskStatusInProgress, models.TaskStatusAssigned:
		return "▸", color.New(color.FgCyan)
	case models.TaskStatusCancelled:
		return "-", color.New(color.Faint)
	default:
		return "·", color.New(color.Reset)
	}
}
