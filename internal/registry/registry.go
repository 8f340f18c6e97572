// Package registry persists discovered devices in a local SQLite
// database so the daemon remembers appliances across restarts.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"voicebridge/internal/device"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	address          TEXT NOT NULL,
	port             INTEGER NOT NULL,
	hostname         TEXT NOT NULL DEFAULT '',
	display_name     TEXT NOT NULL DEFAULT '',
	hardware_address TEXT NOT NULL DEFAULT '',
	capabilities     TEXT,
	first_seen       TEXT NOT NULL,
	last_seen        TEXT NOT NULL,
	PRIMARY KEY (address, port)
);
CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen);
`

// Registry is a device store backed by SQLite.
type Registry struct {
	db *sql.DB
}

// Open opens (and if needed creates) the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	// SQLite handles one writer at a time; a second connection would
	// just hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Upsert inserts a device or refreshes an existing record. The
// first_seen timestamp survives updates; everything else is replaced.
func (r *Registry) Upsert(ctx context.Context, d device.Device) error {
	caps, err := marshalCapabilities(d.Capabilities)
	if err != nil {
		return err
	}

	lastSeen := d.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now()
	}
	stamp := lastSeen.UTC().Format(time.RFC3339)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (address, port, hostname, display_name, hardware_address, capabilities, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address, port) DO UPDATE SET
			hostname         = excluded.hostname,
			display_name     = excluded.display_name,
			hardware_address = excluded.hardware_address,
			capabilities     = excluded.capabilities,
			last_seen        = excluded.last_seen`,
		d.Address, d.Port, d.Hostname, d.DisplayName(), d.HardwareAddress, caps, stamp, stamp)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.Key(), err)
	}
	return nil
}

// Get fetches one device by identity. Returns nil when absent.
func (r *Registry) Get(ctx context.Context, address string, port int) (*device.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT address, port, hostname, hardware_address, capabilities, last_seen
		FROM devices WHERE address = ? AND port = ?`, address, port)

	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s:%d: %w", address, port, err)
	}
	return d, nil
}

// List returns every known device, most recently seen first.
func (r *Registry) List(ctx context.Context) ([]device.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, port, hostname, hardware_address, capabilities, last_seen
		FROM devices ORDER BY last_seen DESC, address, port`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []device.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// Delete removes one device record. Deleting an absent device is not
// an error.
func (r *Registry) Delete(ctx context.Context, address string, port int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE address = ? AND port = ?`, address, port)
	if err != nil {
		return fmt.Errorf("delete device %s:%d: %w", address, port, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*device.Device, error) {
	var d device.Device
	var caps sql.NullString
	var lastSeen string

	if err := row.Scan(&d.Address, &d.Port, &d.Hostname, &d.HardwareAddress, &caps, &lastSeen); err != nil {
		return nil, err
	}

	if caps.Valid && caps.String != "" {
		var c device.Capabilities
		if err := json.Unmarshal([]byte(caps.String), &c); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
		d.Capabilities = &c
	}

	t, err := time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("decode last_seen: %w", err)
	}
	d.LastSeen = t

	return &d, nil
}

func marshalCapabilities(c *device.Capabilities) (interface{}, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode capabilities: %w", err)
	}
	return string(data), nil
}
