package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Deployment snapshot operations

// UpsertDeploymentSnapshot inserts or replaces the snapshot for snap.ID.
// A zero ObservedAt is stamped with the store clock.
func (s *Store) UpsertDeploymentSnapshot(ctx context.Context, snap *DeploymentSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("deployment snapshot requires an id")
	}

	now := s.clock.Now()
	observed := snap.ObservedAt
	if observed.IsZero() {
		observed = now
	}
	status := snap.Status
	if status == "" {
		status = DeploymentUnknown
	}

	var metrics sql.NullString
	if len(snap.Metrics) > 0 {
		b, err := json.Marshal(snap.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics for %s: %w", snap.ID, err)
		}
		metrics = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO deployment_state
		(deployment_id, name, status, replicas, metrics, last_checked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (deployment_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			replicas = excluded.replicas,
			metrics = excluded.metrics,
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		snap.ID,
		snap.Name,
		string(status),
		snap.ReplicaCount,
		metrics,
		formatTime(observed),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert deployment %s: %w", snap.ID, err)
	}

	return nil
}

// GetDeployment returns the snapshot for id, or ErrNotFound.
func (s *Store) GetDeployment(ctx context.Context, id string) (*DeploymentSnapshot, error) {
	query := `
		SELECT deployment_id, name, status, replicas, metrics, last_checked
		FROM deployment_state
		WHERE deployment_id = ?
	`

	snap, err := scanDeployment(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", id, err)
	}
	return snap, nil
}

// ListDeployments returns all tracked snapshots, most recently updated first.
func (s *Store) ListDeployments(ctx context.Context) ([]*DeploymentSnapshot, error) {
	query := `
		SELECT deployment_id, name, status, replicas, metrics, last_checked
		FROM deployment_state
		ORDER BY updated_at DESC, deployment_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var snaps []*DeploymentSnapshot
	for rows.Next() {
		snap, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return snaps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*DeploymentSnapshot, error) {
	var snap DeploymentSnapshot
	var status, observed string
	var metrics sql.NullString

	if err := row.Scan(&snap.ID, &snap.Name, &status, &snap.ReplicaCount, &metrics, &observed); err != nil {
		return nil, err
	}
	snap.Status = DeploymentStatus(status)

	t, err := parseTime(observed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_checked for %s: %w", snap.ID, err)
	}
	snap.ObservedAt = t

	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &snap.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics for %s: %w", snap.ID, err)
		}
	}

	return &snap, nil
}

// Action ledger operations

// AppendAction writes a new ledger record and returns its id. details may
// be nil; otherwise it is stored as JSON.
func (s *Store) AppendAction(ctx context.Context, actionType ActionType, deploymentID string, details any, status ActionStatus) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("append %s: %w: %q", actionType, ErrInvalidStatus, status)
	}

	var detailsJSON sql.NullString
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal details for %s: %w", actionType, err)
		}
		if string(b) != "null" {
			detailsJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	query := `
		INSERT INTO action_ledger (timestamp, action_type, deployment_id, details, status, error)
		VALUES (?, ?, ?, ?, ?, NULL)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(query),
		formatTime(s.clock.Now()),
		string(actionType),
		nullString(deploymentID),
		detailsJSON,
		string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append %s action: %w", actionType, err)
	}

	return id, nil
}

// UpdateActionStatus moves a pending record to a terminal status. Records
// are transitioned exactly once: a second call returns ErrAlreadyTerminal
// and leaves the row untouched.
func (s *Store) UpdateActionStatus(ctx context.Context, id int64, status ActionStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("update action %d: %w: %q", id, ErrInvalidStatus, status)
	}

	query := `
		UPDATE action_ledger
		SET status = ?, error = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.ExecContext(ctx, s.rebind(query),
		string(status),
		nullString(errMsg),
		id,
		string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update action %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM action_ledger WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("action %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read action %d: %w", id, err)
	}
	return fmt.Errorf("action %d is %s: %w", id, current, ErrAlreadyTerminal)
}

const actionColumns = `id, timestamp, action_type, deployment_id, details, status, error`

// GetAction returns a single ledger record, or ErrNotFound.
func (s *Store) GetAction(ctx context.Context, id int64) (*ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM action_ledger WHERE id = ?`

	rec, err := scanAction(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action %d: %w", id, err)
	}
	return rec, nil
}

// RecentActions returns the newest limit records, newest first.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]*ActionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + actionColumns + `
		FROM action_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	return s.queryActions(ctx, "recent actions", query, limit)
}

// ActionsByType returns records of actionType newest first. A zero since
// disables the time filter; limit <= 0 disables the row limit.
func (s *Store) ActionsByType(ctx context.Context, actionType ActionType, since time.Time, limit int) ([]*ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM action_ledger WHERE action_type = ?`
	args := []any{string(actionType)}

	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryActions(ctx, "actions of type "+string(actionType), query, args...)
}

// ListActionsSince returns every record at or after since, oldest first.
func (s *Store) ListActionsSince(ctx context.Context, since time.Time) ([]*ActionRecord, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM action_ledger
		WHERE timestamp >= ?
		ORDER BY timestamp, id
	`
	return s.queryActions(ctx, "actions since "+formatTime(since), query, formatTime(since))
}

// CountActionsSince counts executed records (completed or failed) at or
// after since. An empty actionType counts every type. Pending and blocked
// rows never consume rate-limit budget.
func (s *Store) CountActionsSince(ctx context.Context, since time.Time, actionType ActionType) (int, error) {
	query := `SELECT COUNT(*) FROM action_ledger WHERE timestamp >= ? AND status IN (?, ?)`
	args := []any{formatTime(since), string(StatusCompleted), string(StatusFailed)}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, string(actionType))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count actions since %s: %w", formatTime(since), err)
	}
	return count, nil
}

func (s *Store) queryActions(ctx context.Context, what, query string, args ...any) ([]*ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	var records []*ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}

	return records, nil
}

func scanAction(row rowScanner) (*ActionRecord, error) {
	var rec ActionRecord
	var ts, actionType, status string
	var deploymentID, details, errMsg sql.NullString

	if err := row.Scan(&rec.ID, &ts, &actionType, &deploymentID, &details, &status, &errMsg); err != nil {
		return nil, err
	}

	t, err := parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp for action %d: %w", rec.ID, err)
	}
	rec.Timestamp = t
	rec.ActionType = ActionType(actionType)
	rec.DeploymentID = deploymentID.String
	rec.Status = ActionStatus(status)
	rec.Error = errMsg.String
	if details.Valid && details.String != "" {
		rec.Details = json.RawMessage(details.String)
	}

	return &rec, nil
}

// Cooldown operations

// SetCooldown suppresses actionType (for deploymentID, or globally when
// empty) for duration from now.
func (s *Store) SetCooldown(ctx context.Context, actionType ActionType, duration time.Duration, deploymentID string) error {
	now := s.clock.Now()
	query := `
		INSERT INTO cooldowns (action_type, deployment_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		string(actionType),
		nullString(deploymentID),
		formatTime(now.Add(duration)),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to set cooldown for %s: %w", actionType, err)
	}
	return nil
}

// IsInCooldown reports whether a live cooldown covers actionType. With a
// deploymentID, rows for that deployment and type-global rows match;
// without one, any live row for the type matches.
func (s *Store) IsInCooldown(ctx context.Context, actionType ActionType, deploymentID string) (bool, error) {
	query := `SELECT COUNT(*) FROM cooldowns WHERE action_type = ? AND expires_at > ?`
	args := []any{string(actionType), formatTime(s.clock.Now())}
	if deploymentID != "" {
		query += ` AND (deployment_id = ? OR deployment_id IS NULL)`
		args = append(args, deploymentID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check cooldown for %s: %w", actionType, err)
	}
	return count > 0, nil
}

// ActiveCooldowns lists cooldowns that have not yet expired, soonest first.
func (s *Store) ActiveCooldowns(ctx context.Context) ([]*Cooldown, error) {
	query := `
		SELECT action_type, deployment_id, expires_at
		FROM cooldowns
		WHERE expires_at > ?
		ORDER BY expires_at
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), formatTime(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to list cooldowns: %w", err)
	}
	defer rows.Close()

	var cooldowns []*Cooldown
	for rows.Next() {
		var c Cooldown
		var actionType, expires string
		var deploymentID sql.NullString
		if err := rows.Scan(&actionType, &deploymentID, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan cooldown row: %w", err)
		}
		c.ActionType = ActionType(actionType)
		c.DeploymentID = deploymentID.String
		if c.ExpiresAt, err = parseTime(expires); err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		cooldowns = append(cooldowns, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cooldowns: %w", err)
	}

	return cooldowns, nil
}

// PruneExpiredCooldowns deletes cooldown rows whose expiry has passed and
// returns how many were removed.
func (s *Store) PruneExpiredCooldowns(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM cooldowns WHERE expires_at <= ?`), formatTime(s.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to prune cooldowns: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Statistics

// Stats returns aggregate counters across the three tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	now := s.clock.Now()
	stats := &Stats{ActionsByStatus: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_ledger`).Scan(&stats.TotalActions); err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM action_ledger GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to group actions by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		stats.ActionsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating status rows: %w", err)
	}
	rows.Close()

	hourAgo := formatTime(now.Add(-time.Hour))
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM action_ledger WHERE timestamp >= ?`), hourAgo).Scan(&stats.ActionsLastHour); err != nil {
		return nil, fmt.Errorf("failed to count recent actions: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployment_state`).Scan(&stats.TrackedDeployments); err != nil {
		return nil, fmt.Errorf("failed to count deployments: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM cooldowns WHERE expires_at > ?`), formatTime(now)).Scan(&stats.ActiveCooldowns); err != nil {
		return nil, fmt.Errorf("failed to count cooldowns: %w", err)
	}

	return stats, nil
}
