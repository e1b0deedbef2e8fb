package store

import (
	"database/sql"
	"errors"
	"fmt"

	"baerlink/internal/models"
)

const deviceColumns = `id, name, address, transport, rssi, last_seen`

func scanDevice(scanner interface{ Scan(...any) error }) (models.KnownDevice, error) {
	var d models.KnownDevice
	err := scanner.Scan(&d.ID, &d.Name, &d.Address, &d.Transport, &d.RSSI, &d.LastSeen)
	return d, err
}

// UpsertDevice inserts the device or, when the id is already known, refreshes
// its name, address, rssi and last_seen. Discovery calls this on every hit.
func (s *Store) UpsertDevice(d *models.KnownDevice) error {
	stored, err := scanDevice(s.db.QueryRow(
		`INSERT INTO devices (id, name, address, transport, rssi, last_seen) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address, rssi = excluded.rssi, last_seen = CURRENT_TIMESTAMP
		RETURNING `+deviceColumns,
		d.ID, d.Name, d.Address, d.Transport, d.RSSI,
	))
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	*d = stored
	return nil
}

func (s *Store) GetDevice(id string) (*models.KnownDevice, error) {
	d, err := scanDevice(s.db.QueryRow(
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return &d, nil
}

func (s *Store) ListDevices() ([]models.KnownDevice, error) {
	rows, err := s.db.Query(`SELECT ` + deviceColumns + ` FROM devices ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []models.KnownDevice{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *Store) DeleteDevice(id string) error {
	result, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return nil
}
