// Package gitops records completed task work in version control. The core
// treats this as a bounded external side effect: it only needs to know
// whether the commit succeeded.
package gitops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/hive/internal/exec"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultTimeout bounds each git invocation.
const DefaultTimeout = 30 * time.Second

// Committer stages and commits a task's workspace changes.
type Committer struct {
	runner  exec.CommandRunner
	timeout time.Duration
}

// New creates a Committer. A zero timeout uses DefaultTimeout.
func New(runner exec.CommandRunner, timeout time.Duration) *Committer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Committer{runner: runner, timeout: timeout}
}

// EnsureRepo initializes a repository in dir when none exists.
func (c *Committer) EnsureRepo(ctx context.Context, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.runner.Run(ctx, dir, "git", "rev-parse", "--is-inside-work-tree"); err == nil {
		return nil
	}
	if out, err := c.runner.Run(ctx, dir, "git", "init"); err != nil {
		return fmt.Errorf("git init: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CommitTask stages everything in the workspace and commits it, labeled
// with the task. A clean workspace is not an error.
func (c *Committer) CommitTask(ctx context.Context, workDir string, task *models.Task) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if out, err := c.runner.Run(ctx, workDir, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w: %s", err, strings.TrimSpace(string(out)))
	}

	status, err := c.runner.Run(ctx, workDir, "git", "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if len(strings.TrimSpace(string(status))) == 0 {
		return nil
	}

	message := CommitMessage(task)
	if out, err := c.runner.Run(ctx, workDir, "git", "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CommitMessage builds the commit message for a completed task.
func CommitMessage(task *models.Task) string {
	id := task.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("task %s: %s", id, task.Title)
}
