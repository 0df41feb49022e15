// Package db stores captured frames and their statistics in SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// ErrNotFound is returned when no capture has the requested ID.
var ErrNotFound = errors.New("db: capture not found")

type DB struct {
	*sql.DB
}

// OpenDB opens (or creates) the frame store at path and applies any pending
// migrations.
func OpenDB(path string) (*DB, error) {
	db, err := OpenDBWithoutMigrations(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDBWithoutMigrations opens the store and leaves the schema alone, for
// the migrate subcommand.
func OpenDBWithoutMigrations(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the recorder and the API share the connection
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{sqlDB}, nil
}

// Capture is one stored frame. Frame holds the raw frame buffer;
// RecentCaptures leaves it empty.
type Capture struct {
	ID          string             `json:"id"`
	CapturedAt  time.Time          `json:"captured_at"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	PixelFormat string             `json:"pixel_format"`
	Summary     radiometry.Summary `json:"summary"`
	Resyncs     uint64             `json:"resyncs"`
	SyncLosses  uint64             `json:"sync_losses"`
	CRCErrors   uint64             `json:"crc_errors"`
	Frame       []byte             `json:"-"`
}

// NewCapture describes frame with a fresh ID and its intensity statistics.
func NewCapture(frame vospi.Frame, format radiometry.PixFormat, at time.Time) Capture {
	return Capture{
		ID:          uuid.NewString(),
		CapturedAt:  at.UTC(),
		Width:       frame.Geometry.Width,
		Height:      frame.Geometry.Height,
		PixelFormat: format.String(),
		Summary:     radiometry.Summarize(frame),
		Frame:       frame.Raw,
	}
}

// VospiFrame rebuilds the frame view from a loaded capture.
func (c Capture) VospiFrame() vospi.Frame {
	return vospi.Frame{Geometry: vospi.Geometry{Width: c.Width, Height: c.Height}, Raw: c.Frame}
}

// RecordCapture inserts c.
func (db *DB) RecordCapture(c Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if len(c.Frame) == 0 {
		return fmt.Errorf("capture %s has no frame data", c.ID)
	}
	_, err := db.Exec(
		`INSERT INTO captures (
			capture_id, captured_at, width, height, pixel_format,
			mean, stddev, min_intensity, max_intensity,
			resyncs, sync_losses, crc_errors, frame
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CapturedAt.UnixNano(), c.Width, c.Height, c.PixelFormat,
		c.Summary.Mean, c.Summary.StdDev, c.Summary.Min, c.Summary.Max,
		c.Resyncs, c.SyncLosses, c.CRCErrors, c.Frame,
	)
	if err != nil {
		return fmt.Errorf("failed to insert capture: %w", err)
	}
	return nil
}

const captureColumns = `capture_id, captured_at, width, height, pixel_format,
	mean, stddev, min_intensity, max_intensity, resyncs, sync_losses, crc_errors`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(s scanner, withFrame bool) (Capture, error) {
	var (
		c     Capture
		nanos int64
	)
	dest := []interface{}{
		&c.ID, &nanos, &c.Width, &c.Height, &c.PixelFormat,
		&c.Summary.Mean, &c.Summary.StdDev, &c.Summary.Min, &c.Summary.Max,
		&c.Resyncs, &c.SyncLosses, &c.CRCErrors,
	}
	if withFrame {
		dest = append(dest, &c.Frame)
	}
	if err := s.Scan(dest...); err != nil {
		return Capture{}, err
	}
	c.CapturedAt = time.Unix(0, nanos).UTC()
	return c, nil
}

// RecentCaptures returns up to n captures, newest first, without frame
// data.
func (db *DB) RecentCaptures(n int) ([]Capture, error) {
	rows, err := db.Query(`SELECT `+captureColumns+` FROM captures ORDER BY captured_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		c, err := scanCapture(rows, false)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return captures, nil
}

// LoadCapture returns one capture including its frame data.
func (db *DB) LoadCapture(id string) (Capture, error) {
	row := db.QueryRow(`SELECT `+captureColumns+`, frame FROM captures WHERE capture_id = ?`, id)
	c, err := scanCapture(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, ErrNotFound
	}
	return c, err
}

// LatestCapture returns the newest capture including its frame data.
func (db *DB) LatestCapture() (Capture, error) {
	row := db.QueryRow(`SELECT ` + captureColumns + `, frame FROM captures ORDER BY captured_at DESC LIMIT 1`)
	c, err := scanCapture(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, ErrNotFound
	}
	return c, err
}

// CountCaptures returns the number of stored captures.
func (db *DB) CountCaptures() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM captures`).Scan(&n)
	return n, err
}

// PruneCaptures deletes all but the newest keep captures and reports how
// many were removed. keep <= 0 keeps everything.
func (db *DB) PruneCaptures(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := db.Exec(`
		DELETE FROM captures WHERE capture_id NOT IN (
			SELECT capture_id FROM captures ORDER BY captured_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune captures: %w", err)
	}
	return res.RowsAffected()
}
