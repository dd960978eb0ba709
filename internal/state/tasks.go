package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// SaveTask inserts or replaces a task record.
func (db *DB) SaveTask(t *models.Task) error {
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}

	var result []byte
	if t.Result != nil {
		result, err = json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO tasks
		(id, title, description, priority, depends_on, capability, status,
		 assigned_agent_id, attempt_count, max_attempts, seq, created_at,
		 updated_at, result, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, t.Priority, string(deps), t.Capability,
		string(t.Status), t.AssignedAgentID, t.AttemptCount, t.MaxAttempts,
		t.Seq, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		nullableString(string(result)), t.LastError)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTasks returns all persisted tasks ordered by sequence number.
func (db *DB) LoadTasks() ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, title, description, priority, depends_on, capability,
		       status, assigned_agent_id, attempt_count, max_attempts, seq,
		       created_at, updated_at, result, last_error
		FROM tasks ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task record.
func (db *DB) DeleteTask(id string) error {
	if _, err := db.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func scanTask(rows *sql.Rows) (*models.Task, error) {
	var t models.Task
	var deps, status, createdAt, updatedAt string
	var result sql.NullString

	err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Priority, &deps,
		&t.Capability, &status, &t.AssignedAgentID, &t.AttemptCount,
		&t.MaxAttempts, &t.Seq, &createdAt, &updatedAt, &result, &t.LastError)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(deps), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("unmarshal depends_on for %s: %w", t.ID, err)
	}
	if result.Valid && result.String != "" {
		var wr models.WorkResult
		if err := json.Unmarshal([]byte(result.String), &wr); err != nil {
			return nil, fmt.Errorf("unmarshal result for %s: %w", t.ID, err)
		}
		t.Result = &wr
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", t.ID, err)
	}
	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
