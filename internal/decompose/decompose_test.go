package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/pkg/models"
)

// fakeExecutor returns canned results and records the commands it saw.
type fakeExecutor struct {
	result *claude.Result
	err    error
	cmds   []*models.Command
}

func (f *fakeExecutor) Execute(_ context.Context, cmd *models.Command) (*claude.Result, error) {
	f.cmds = append(f.cmds, cmd)
	return f.result, f.err
}

func TestDecompose(t *testing.T) {
	payload := `[
		{"title":"setup schema","description":"create tables","priority":8,"depends_on":[],"self_test":"migration applies cleanly"},
		{"title":"api handlers","description":"implement endpoints","priority":5,"capability":"backend","depends_on":["setup schema"]}
	]`
	exec := &fakeExecutor{result: &claude.Result{Success: true, Payload: json.RawMessage(payload)}}
	d := New(exec, models.CommandOptions{})

	tasks, err := d.Decompose(context.Background(), "build the service")
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}

	schema, handlers := tasks[0], tasks[1]
	if schema.Title != "setup schema" || schema.Priority != 8 {
		t.Errorf("first task = %q priority %d", schema.Title, schema.Priority)
	}
	if !strings.Contains(schema.Description, "Self-test: migration applies cleanly") {
		t.Errorf("self-test not folded into description: %q", schema.Description)
	}
	if handlers.Capability != "backend" {
		t.Errorf("capability = %q, want backend", handlers.Capability)
	}
	if len(handlers.DependsOn) != 1 || handlers.DependsOn[0] != schema.ID {
		t.Errorf("dependency titles not resolved to ids: %v", handlers.DependsOn)
	}

	if len(exec.cmds) != 1 {
		t.Fatalf("executed %d commands, want 1", len(exec.cmds))
	}
	cmd := exec.cmds[0]
	if cmd.Options.OutputFormat != models.OutputStructured {
		t.Error("decomposition must request structured output")
	}
	if !strings.Contains(cmd.Prompt, "build the service") {
		t.Error("instruction missing from prompt")
	}
}

func TestDecomposeExecError(t *testing.T) {
	wantErr := errors.New("boom")
	d := New(&fakeExecutor{err: wantErr}, models.CommandOptions{})

	if _, err := d.Decompose(context.Background(), "x"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestParseTasks(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "empty list",
			payload: `[]`,
			wantErr: "empty task list",
		},
		{
			name:    "missing title",
			payload: `[{"description":"x"}]`,
			wantErr: "empty title",
		},
		{
			name:    "duplicate titles",
			payload: `[{"title":"a"},{"title":"a"}]`,
			wantErr: "duplicate task title",
		},
		{
			name:    "unknown dependency",
			payload: `[{"title":"a","depends_on":["ghost"]}]`,
			wantErr: "unknown task",
		},
		{
			name:    "cycle",
			payload: `[{"title":"a","depends_on":["b"]},{"title":"b","depends_on":["a"]}]`,
			wantErr: "validate dependencies",
		},
		{
			name:    "not an array",
			payload: `{"title":"a"}`,
			wantErr: "unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTasks(json.RawMessage(tt.payload))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseTasksPriorityClamped(t *testing.T) {
	payload := `[{"title":"low","priority":-3},{"title":"high","priority":99}]`
	tasks, err := ParseTasks(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("ParseTasks: %v", err)
	}
	if tasks[0].Priority != 1 || tasks[1].Priority != 10 {
		t.Errorf("priorities = %d, %d; want 1, 10", tasks[0].Priority, tasks[1].Priority)
	}
}

func TestReview(t *testing.T) {
	exec := &fakeExecutor{result: &claude.Result{
		Success: true,
		Payload: json.RawMessage(`{"approved":false,"feedback":"tests missing"}`),
	}}
	r := NewReviewer(exec, models.CommandOptions{})

	task := &models.Task{ID: "t1", Title: "api", Description: "endpoints\n\nSelf-test: curl returns 200"}
	result := &models.WorkResult{TaskID: "t1", Success: true, Raw: "implemented endpoints"}

	verdict, err := r.Review(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Approved || verdict.Feedback != "tests missing" {
		t.Errorf("verdict = %+v", verdict)
	}

	cmd := exec.cmds[0]
	if cmd.TaskID != "t1" {
		t.Errorf("review command not correlated with task, got %q", cmd.TaskID)
	}
	if !strings.Contains(cmd.Prompt, "curl returns 200") {
		t.Error("self-test missing from review prompt")
	}
	if !strings.Contains(cmd.Prompt, "implemented endpoints") {
		t.Error("reported result missing from review prompt")
	}
}

func TestReviewRejectionWithoutFeedback(t *testing.T) {
	exec := &fakeExecutor{result: &claude.Result{
		Success: true,
		Payload: json.RawMessage(`{"approved":false}`),
	}}
	r := NewReviewer(exec, models.CommandOptions{})

	verdict, err := r.Review(context.Background(), &models.Task{ID: "t1"}, &models.WorkResult{})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Feedback == "" {
		t.Error("rejection must carry feedback for the remediation task")
	}
}
