package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hydrosense/aquamon/internal/model"
	"github.com/hydrosense/aquamon/internal/services/alerting"
)

var _ alerting.Store = (*DB)(nil)

const alertColumns = `id, device_id, parameter, severity, status, current_value, threshold_value, created_at, updated_at`

// UpsertActive refreshes the Active alert for (device, parameter) or creates
// one. Runs in a transaction so concurrent breaches for the same pair cannot
// produce duplicates; the partial unique index alerts_one_active backs this up.
func (d *DB) UpsertActive(ctx context.Context, a model.Alert) (model.Alert, bool, error) {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE alerts
		SET current_value = $3, severity = $4, threshold_value = $5, updated_at = $6
		WHERE device_id = $1 AND parameter = $2 AND status = 'active'
		RETURNING `+alertColumns,
		a.DeviceID, a.Parameter, a.CurrentValue, a.Severity, a.ThresholdValue, a.UpdatedAt,
	)
	stored, err := scanAlert(row)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return model.Alert{}, false, fmt.Errorf("failed to commit alert update: %w", err)
		}
		return *stored, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Alert{}, false, fmt.Errorf("failed to refresh alert: %w", err)
	}

	a.ID = uuid.NewString()
	row = tx.QueryRow(ctx, `
		INSERT INTO alerts (id, device_id, parameter, severity, status, current_value, threshold_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', $5, $6, $7, $7)
		RETURNING `+alertColumns,
		a.ID, a.DeviceID, a.Parameter, a.Severity, a.CurrentValue, a.ThresholdValue, a.CreatedAt,
	)
	stored, err = scanAlert(row)
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("failed to insert alert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Alert{}, false, fmt.Errorf("failed to commit alert insert: %w", err)
	}
	return *stored, true, nil
}

func (d *DB) ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []interface{}{}
	i := 1
	if f.DeviceID != "" {
		query += fmt.Sprintf(" AND device_id = $%d", i)
		args = append(args, f.DeviceID)
		i++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, f.Status)
		i++
	}
	if f.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", i)
		args = append(args, f.Severity)
		i++
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", i)
		args = append(args, f.Limit)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var list []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	err := row.Scan(
		&a.ID,
		&a.DeviceID,
		&a.Parameter,
		&a.Severity,
		&a.Status,
		&a.CurrentValue,
		&a.ThresholdValue,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
