package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hydrosense/aquamon/internal/model"
	"github.com/hydrosense/aquamon/internal/services/registry"
)

// DB implements registry.Store.
var _ registry.Store = (*DB)(nil)

const deviceColumns = `device_id, name, type, mac_address, ip_address, firmware_version,
	registration_status, connectivity_status, last_seen, offline_since, created_at, updated_at`

func scanDevice(row pgx.Row) (*model.Device, error) {
	var d model.Device
	err := row.Scan(
		&d.DeviceID,
		&d.Name,
		&d.Type,
		&d.MACAddress,
		&d.IPAddress,
		&d.FirmwareVersion,
		&d.RegistrationStatus,
		&d.ConnectivityStatus,
		&d.LastSeen,
		&d.OfflineSince,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *DB) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	row := d.Pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	dev, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, registry.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return dev, nil
}

func (d *DB) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var list []model.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		list = append(list, *dev)
	}
	return list, rows.Err()
}

func (d *DB) CreateDevice(ctx context.Context, dev *model.Device) error {
	tag, err := d.Pool.Exec(ctx, `
		INSERT INTO devices (
			device_id, name, type, mac_address, ip_address, firmware_version,
			registration_status, connectivity_status, last_seen, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (device_id) DO NOTHING`,
		dev.DeviceID, dev.Name, dev.Type, dev.MACAddress, dev.IPAddress, dev.FirmwareVersion,
		dev.RegistrationStatus, dev.ConnectivityStatus, dev.LastSeen, dev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrDeviceExists
	}
	return nil
}

func (d *DB) TouchLastSeen(ctx context.Context, deviceID string, at time.Time) (bool, error) {
	// GREATEST keeps the newest wall-clock value, so an out-of-order pair of
	// messages cannot regress lastSeen.
	tag, err := d.Pool.Exec(ctx, `
		UPDATE devices
		SET last_seen = GREATEST(COALESCE(last_seen, 'epoch'::timestamptz), $2),
		    updated_at = now()
		WHERE device_id = $1`,
		deviceID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to touch last_seen: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *DB) SetConnectivity(ctx context.Context, deviceID string, status model.ConnectivityStatus, now time.Time) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE devices
		SET offline_since = CASE
				WHEN $2 = 'offline' AND connectivity_status <> 'offline' THEN $3::timestamptz
				WHEN $2 <> 'offline' THEN NULL
				ELSE offline_since
			END,
		    connectivity_status = $2,
		    updated_at = $3
		WHERE device_id = $1`,
		deviceID, string(status), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set connectivity: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *DB) MarkOnlineAuto(ctx context.Context, deviceID string, now time.Time) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE devices
		SET connectivity_status = 'online',
		    offline_since = NULL,
		    updated_at = $2
		WHERE device_id = $1 AND connectivity_status <> 'maintenance'`,
		deviceID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark online: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *DB) MarkStaleOffline(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := d.Pool.Query(ctx, `
		UPDATE devices
		SET connectivity_status = 'offline',
		    offline_since = $2,
		    updated_at = $2
		WHERE connectivity_status NOT IN ('offline', 'maintenance')
		  AND (last_seen IS NULL OR last_seen < $1)
		RETURNING device_id`,
		cutoff, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stale devices offline: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) UpdateHints(ctx context.Context, deviceID string, hints model.RegistrationHints) error {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE devices
		SET name             = COALESCE(NULLIF($2, ''), name),
		    type             = COALESCE(NULLIF($3, ''), type),
		    mac_address      = COALESCE(NULLIF($4, ''), mac_address),
		    ip_address       = COALESCE(NULLIF($5, ''), ip_address),
		    firmware_version = COALESCE(NULLIF($6, ''), firmware_version),
		    updated_at       = now()
		WHERE device_id = $1`,
		deviceID, hints.Name, hints.Type, hints.MACAddress, hints.IPAddress, hints.FirmwareVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update device metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrDeviceNotFound
	}
	return nil
}
