package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/automapper/internal/snapshot"
)

// SnapshotRepository persists snapshots in the map_snapshots table. Payloads
// are stored as JSONB, so they must be valid JSON and are returned in
// PostgreSQL's normalized form.
type SnapshotRepository struct {
	db *pgxpool.Pool
}

// NewSnapshotRepository creates a SnapshotRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// List returns the metadata of every snapshot, newest first.
func (r *SnapshotRepository) List(ctx context.Context) ([]snapshot.Metadata, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, description, room_count, updated_at
		 FROM map_snapshots
		 ORDER BY updated_at DESC, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Metadata
	for rows.Next() {
		var m snapshot.Metadata
		var updated time.Time
		if err := rows.Scan(&m.Name, &m.Description, &m.RoomCount, &updated); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		m.UpdatedAt = updated.Unix()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

// Save inserts the snapshot or replaces the row with the same name.
//
// Precondition: payload must be valid JSON.
// Postcondition: The row for meta.Name holds meta and payload.
func (r *SnapshotRepository) Save(ctx context.Context, meta snapshot.Metadata, payload []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO map_snapshots (name, description, room_count, payload, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE SET
		   description = EXCLUDED.description,
		   room_count  = EXCLUDED.room_count,
		   payload     = EXCLUDED.payload,
		   updated_at  = EXCLUDED.updated_at`,
		meta.Name, meta.Description, meta.RoomCount, payload, time.Unix(meta.UpdatedAt, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

// Load returns the stored payload.
//
// Postcondition: Returns the payload or snapshot.ErrNotFound.
func (r *SnapshotRepository) Load(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM map_snapshots WHERE name = $1`,
		name,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return payload, nil
}

// Delete removes the row if present.
func (r *SnapshotRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM map_snapshots WHERE name = $1`, name); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}
