package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

const checkIntervalKey = "check_interval_minutes"

// CheckIntervalMinutes reads the sweep interval from the settings document.
// Missing or non-positive values are reported as errors; the timing cache
// falls back to its default.
func (d *DB) CheckIntervalMinutes(ctx context.Context) (int, error) {
	var raw string
	err := d.Pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, checkIntervalKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("setting %s not found", checkIntervalKey)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read setting %s: %w", checkIntervalKey, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("setting %s has invalid value %q", checkIntervalKey, raw)
	}
	return n, nil
}
