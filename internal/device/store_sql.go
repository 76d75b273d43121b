package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homelink-core/internal/infrastructure/database"
)

// timeLayout is used for every timestamp column.
const timeLayout = time.RFC3339Nano

// SQLStore implements Store on the devices table. It works with both
// SQLite and PostgreSQL connections from the database package.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store on an open, migrated database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectDeviceColumns = `SELECT id, name, owner_id, state, state_updated_at, created_at FROM devices`

// Find implements Store.
func (s *SQLStore) Find(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, selectDeviceColumns+` WHERE id = ?`, id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device %s: %w", id, err)
	}
	return d, nil
}

// Insert implements Store. The primary key makes concurrent inserts of
// one ID fail with ErrDeviceExists.
func (s *SQLStore) Insert(ctx context.Context, d *Device) error {
	var updatedAt sql.NullString
	if d.StateUpdatedAt != nil {
		updatedAt = sql.NullString{String: d.StateUpdatedAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, owner_id, state, state_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.OwnerID, string(d.State), updatedAt, d.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device %s: %w", d.ID, err)
	}
	return nil
}

// UpdateState implements Store.
func (s *SQLStore) UpdateState(ctx context.Context, id string, state State, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE devices SET state = ?, state_updated_at = ? WHERE id = ?`,
		string(state), at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("updating state of %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// List implements Store. Devices are ordered by ID.
func (s *SQLStore) List(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, selectDeviceColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d         Device
		state     string
		updatedAt sql.NullString
		createdAt string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.OwnerID, &state, &updatedAt, &createdAt); err != nil {
		return nil, err
	}
	d.State = State(state)

	var err error
	if d.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", d.ID, err)
	}
	if updatedAt.Valid {
		t, err := time.Parse(timeLayout, updatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing state_updated_at of %s: %w", d.ID, err)
		}
		d.StateUpdatedAt = &t
	}
	return &d, nil
}
