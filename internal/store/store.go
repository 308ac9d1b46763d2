// Package store persists assets, icon mappings and measurements in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/twin-monitor/internal/series"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// ErrNotFound is returned when an asset does not exist or is inactive.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		CREATE TABLE IF NOT EXISTS assets (
			id          INTEGER PRIMARY KEY,
			key         TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL DEFAULT '',
			urn         TEXT NOT NULL DEFAULT '',
			latitude    DOUBLE NOT NULL DEFAULT 0,
			longitude   DOUBLE NOT NULL DEFAULT 0,
			active      BOOLEAN NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS icon_mappings (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id        INTEGER NOT NULL,
			target_id       INTEGER NOT NULL,
			key             TEXT NOT NULL DEFAULT '',
			topic           TEXT NOT NULL DEFAULT '',
			field_path      TEXT NOT NULL DEFAULT '',
			label_template  TEXT,
			css             TEXT NOT NULL DEFAULT '',
			sort_order      INTEGER NOT NULL DEFAULT 0,
			active          BOOLEAN NOT NULL DEFAULT 1,
			FOREIGN KEY(asset_id) REFERENCES assets(id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS measurements (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id    INTEGER NOT NULL,
			ts          BIGINT NOT NULL,
			metric      TEXT NOT NULL,
			value       DOUBLE NOT NULL,
			FOREIGN KEY(asset_id) REFERENCES assets(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_measurements_asset_ts ON measurements(asset_id, ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertAsset inserts or updates an asset by ID and marks it active.
func (s *Store) UpsertAsset(ctx context.Context, a telemetry.Asset) error {
	if a.ID <= 0 || a.Key == "" {
		return fmt.Errorf("asset needs an id and a key: %+v", a)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, key, name, urn, latitude, longitude, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			key = excluded.key, name = excluded.name, urn = excluded.urn,
			latitude = excluded.latitude, longitude = excluded.longitude, active = 1`,
		a.ID, a.Key, a.Name, a.URN, a.Latitude, a.Longitude)
	if err != nil {
		return fmt.Errorf("upsert asset %d: %w", a.ID, err)
	}
	return nil
}

// SetActive activates or deactivates an asset.
func (s *Store) SetActive(ctx context.Context, assetID int, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assets SET active = ? WHERE id = ?`, active, assetID)
	if err != nil {
		return fmt.Errorf("set asset %d active: %w", assetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const assetColumns = `id, key, name, urn, latitude, longitude`

func scanAsset(row interface{ Scan(...any) error }) (telemetry.Asset, error) {
	var a telemetry.Asset
	err := row.Scan(&a.ID, &a.Key, &a.Name, &a.URN, &a.Latitude, &a.Longitude)
	return a, err
}

// Assets lists active assets ordered by name then id.
func (s *Store) Assets(ctx context.Context) ([]telemetry.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE active = 1 ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	out := []telemetry.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Asset returns an active asset by ID.
func (s *Store) Asset(ctx context.Context, id int) (telemetry.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = ? AND active = 1`, id)
	return s.oneAsset(row)
}

// AssetByKey returns an active asset by key.
func (s *Store) AssetByKey(ctx context.Context, key string) (telemetry.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE key = ? AND active = 1`, key)
	return s.oneAsset(row)
}

func (s *Store) oneAsset(row *sql.Row) (telemetry.Asset, error) {
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Asset{}, ErrNotFound
	}
	if err != nil {
		return telemetry.Asset{}, fmt.Errorf("scan asset: %w", err)
	}
	return a, nil
}

// ReplaceMappings swaps an asset's icon mappings for ms, numbering sort
// order by position.
func (s *Store) ReplaceMappings(ctx context.Context, assetID int, ms []telemetry.Mapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM icon_mappings WHERE asset_id = ?`, assetID); err != nil {
		return fmt.Errorf("clear mappings for asset %d: %w", assetID, err)
	}
	for i, m := range ms {
		var tmpl sql.NullString
		if m.LabelTemplate != nil {
			tmpl = sql.NullString{String: *m.LabelTemplate, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO icon_mappings (asset_id, target_id, key, topic, field_path, label_template, css, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			assetID, int(m.TargetID), m.Key, m.Topic, m.FieldPath, tmpl, m.Style, i)
		if err != nil {
			return fmt.Errorf("insert mapping for asset %d: %w", assetID, err)
		}
	}
	return tx.Commit()
}

// Mappings lists an asset's active icon mappings ordered by sort order then
// id. Rows are returned as stored, malformed or not.
func (s *Store) Mappings(ctx context.Context, assetID int) ([]telemetry.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, key, topic, field_path, label_template, css
		FROM icon_mappings
		WHERE asset_id = ? AND active = 1
		ORDER BY sort_order, id`, assetID)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	out := []telemetry.Mapping{}
	for rows.Next() {
		var (
			m      telemetry.Mapping
			target int
			tmpl   sql.NullString
		)
		if err := rows.Scan(&target, &m.Key, &m.Topic, &m.FieldPath, &tmpl, &m.Style); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.TargetID = telemetry.ComponentID(target)
		if tmpl.Valid {
			t := tmpl.String
			m.LabelTemplate = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordMeasurement stores one metric reading.
func (s *Store) RecordMeasurement(ctx context.Context, assetID int, metric string, at time.Time, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (asset_id, ts, metric, value) VALUES (?, ?, ?, ?)`,
		assetID, at.UnixMilli(), metric, value)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// Query filters a series read. Zero fields do not filter.
type Query struct {
	Metric string
	Start  time.Time
	End    time.Time
}

// Series returns an asset's measurements grouped by metric, oldest first.
// Start and End are inclusive.
func (s *Store) Series(ctx context.Context, assetID int, q Query) (map[string][]series.Point, error) {
	query := `SELECT ts, metric, value FROM measurements WHERE asset_id = ?`
	args := []any{assetID}
	if q.Metric != "" {
		query += ` AND metric = ?`
		args = append(args, q.Metric)
	}
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixMilli())
	}
	query += ` ORDER BY ts, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]series.Point)
	for rows.Next() {
		var (
			ms     int64
			metric string
			v      float64
		)
		if err := rows.Scan(&ms, &metric, &v); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out[metric] = append(out[metric], series.Point{Time: time.UnixMilli(ms).UTC(), Value: v})
	}
	return out, rows.Err()
}

// Prune deletes measurements older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM measurements WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune measurements: %w", err)
	}
	return res.RowsAffected()
}
