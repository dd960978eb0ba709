package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ReviewVerdict is the structured outcome of reviewing a completed task.
type ReviewVerdict struct {
	// Approved is true when the work satisfies the task.
	Approved bool `json:"approved"`
	// Feedback describes what is missing or wrong when not approved.
	Feedback string `json:"feedback"`
}

// Reviewer judges completed work against its task.
type Reviewer struct {
	exec Executor
	opts models.CommandOptions
}

// NewReviewer creates a Reviewer executing through exec.
func NewReviewer(exec Executor, opts models.CommandOptions) *Reviewer {
	opts.OutputFormat = models.OutputStructured
	return &Reviewer{exec: exec, opts: opts}
}

// Review runs a review command for the task's reported result.
func (r *Reviewer) Review(ctx context.Context, task *models.Task, result *models.WorkResult) (*ReviewVerdict, error) {
	reported := result.Raw
	if reported == "" && len(result.Payload) > 0 {
		reported = string(result.Payload)
	}
	if reported == "" {
		reported = "(no output reported)"
	}

	cmd := &models.Command{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Prompt:   fmt.Sprintf(reviewPrompt, task.Title, task.Description, selfTestOf(task), reported),
		Options:  r.opts,
		IssuedAt: time.Now(),
	}
	res, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("review command: %w", err)
	}

	var verdict ReviewVerdict
	if err := json.Unmarshal(res.Payload, &verdict); err != nil {
		return nil, fmt.Errorf("parse review verdict: %w", err)
	}
	if !verdict.Approved && verdict.Feedback == "" {
		verdict.Feedback = "rejected without feedback"
	}
	return &verdict, nil
}

// selfTestOf extracts the self-test line folded into the description, or a
// generic check when the task has none.
func selfTestOf(task *models.Task) string {
	const marker = "\n\nSelf-test: "
	if i := strings.LastIndex(task.Description, marker); i >= 0 {
		return task.Description[i+len(marker):]
	}
	return "the described outcome is observable"
}
