package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// SaveAgent inserts or replaces an agent record.
func (db *DB) SaveAgent(a *models.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO agents
		(id, role, process_status, capacity, capabilities, current_task_id,
		 restart_count, error_count, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Role), string(a.ProcessStatus), a.Capacity, string(caps),
		a.CurrentTaskID, a.RestartCount, a.ErrorCount,
		formatTime(a.LastActivityAt))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// LoadAgents returns all persisted agent records.
func (db *DB) LoadAgents() ([]*models.Agent, error) {
	rows, err := db.Query(`
		SELECT id, role, process_status, capacity, capabilities,
		       current_task_id, restart_count, error_count, last_activity_at
		FROM agents
	`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var a models.Agent
		var role, status, lastActivity string
		var caps sql.NullString

		err := rows.Scan(&a.ID, &role, &status, &a.Capacity, &caps,
			&a.CurrentTaskID, &a.RestartCount, &a.ErrorCount, &lastActivity)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}

		a.Role = models.AgentRole(role)
		a.ProcessStatus = models.ProcessStatus(status)
		if caps.Valid && caps.String != "" {
			if err := json.Unmarshal([]byte(caps.String), &a.Capabilities); err != nil {
				return nil, fmt.Errorf("unmarshal capabilities for %s: %w", a.ID, err)
			}
		}
		if a.LastActivityAt, err = parseTime(lastActivity); err != nil {
			return nil, fmt.Errorf("parse last_activity_at for %s: %w", a.ID, err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent record, used on scale-down.
func (db *DB) DeleteAgent(id string) error {
	if _, err := db.Exec("DELETE FROM agents WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}
