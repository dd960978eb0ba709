// Package decompose turns external instructions into task sets and reviews
// completed work. Both operations go through structured one-shot commands.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Executor runs one command and returns its result. The supervisor
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd *models.Command) (*claude.Result, error)
}

// decomposedTask is the JSON structure returned for a single task.
type decomposedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Capability  string   `json:"capability"`
	DependsOn   []string `json:"depends_on"`
	SelfTest    string   `json:"self_test"`
}

// Decomposer breaks instructions into prioritized, dependency-ordered tasks.
type Decomposer struct {
	exec Executor
	opts models.CommandOptions
}

// New creates a Decomposer executing through exec. The output format is
// forced to structured; other options pass through.
func New(exec Executor, opts models.CommandOptions) *Decomposer {
	opts.OutputFormat = models.OutputStructured
	return &Decomposer{exec: exec, opts: opts}
}

// Decompose turns an instruction into a validated task set.
func (d *Decomposer) Decompose(ctx context.Context, instruction string) ([]*models.Task, error) {
	cmd := &models.Command{
		ID:       uuid.NewString(),
		Prompt:   fmt.Sprintf(decompositionPrompt, instruction),
		Options:  d.opts,
		IssuedAt: time.Now(),
	}
	res, err := d.exec.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("decomposition command: %w", err)
	}
	tasks, err := ParseTasks(res.Payload)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	return tasks, nil
}

// ParseTasks converts a structured payload into task records. Dependency
// references by title resolve to generated ids; unknown references,
// duplicate titles, and cycles are rejected.
func ParseTasks(payload json.RawMessage) ([]*models.Task, error) {
	var decomposed []decomposedTask
	if err := json.Unmarshal(payload, &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal task list: %w", err)
	}
	if len(decomposed) == 0 {
		return nil, fmt.Errorf("empty task list")
	}

	titleToID := make(map[string]string, len(decomposed))
	for _, dt := range decomposed {
		if dt.Title == "" {
			return nil, fmt.Errorf("task with empty title")
		}
		if _, dup := titleToID[dt.Title]; dup {
			return nil, fmt.Errorf("duplicate task title %q", dt.Title)
		}
		titleToID[dt.Title] = uuid.NewString()
	}

	tasks := make([]*models.Task, 0, len(decomposed))
	for _, dt := range decomposed {
		deps := make([]string, 0, len(dt.DependsOn))
		for _, title := range dt.DependsOn {
			id, ok := titleToID[title]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", dt.Title, title)
			}
			deps = append(deps, id)
		}

		priority := dt.Priority
		if priority < 1 {
			priority = 1
		} else if priority > 10 {
			priority = 10
		}

		description := dt.Description
		if dt.SelfTest != "" {
			description += "\n\nSelf-test: " + dt.SelfTest
		}

		tasks = append(tasks, &models.Task{
			ID:          titleToID[dt.Title],
			Title:       dt.Title,
			Description: description,
			Priority:    priority,
			Capability:  dt.Capability,
			DependsOn:   deps,
		})
	}

	if err := ValidateNoCycles(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ValidateNoCycles rejects task sets whose dependencies contain a cycle.
func ValidateNoCycles(tasks []*models.Task) error {
	batch := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		batch[t.ID] = t.DependsOn
	}
	if err := graph.New().AddBatch(batch); err != nil {
		return fmt.Errorf("validate dependencies: %w", err)
	}
	return nil
}
