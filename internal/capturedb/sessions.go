package capturedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rangescan/internal/acquisition"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/source"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("capture session not found")

// SessionStart describes a capture at the moment it begins.
type SessionStart struct {
	Kind        source.Kind
	Path        string
	Diagnostics scan.Diagnostics
	Decimation  int
	StartedAt   time.Time
}

// SessionEnd summarises a finished capture.
type SessionEnd struct {
	EndedAt    time.Time
	FinalState string
	RawPoints  int64
	KeptPoints int64
	Stats      acquisition.Stats
}

// Session is a stored capture session.
type Session struct {
	ID               string   `json:"id"`
	SourceKind       string   `json:"source_kind"`
	SourcePath       string   `json:"source_path"`
	Model            string   `json:"model"`
	Firmware         string   `json:"firmware"`
	Hardware         int      `json:"hardware"`
	SerialNumber     string   `json:"serial_number"`
	HealthStatus     string   `json:"health_status"`
	HealthCode       int      `json:"health_code"`
	Decimation       int      `json:"decimation"`
	StartUnix        float64  `json:"start_unix"`
	EndUnix          *float64 `json:"end_unix,omitempty"`
	FinalState       string   `json:"final_state,omitempty"`
	RawPoints        int64    `json:"raw_points"`
	KeptPoints       int64    `json:"kept_points"`
	Frames           int64    `json:"frames"`
	DroppedNoReturn  int64    `json:"dropped_no_return"`
	DroppedFiltered  int64    `json:"dropped_filtered"`
	DroppedOverflow  int64    `json:"dropped_overflow"`
	DroppedDecimated int64    `json:"dropped_decimated"`
	DroppedLag       int64    `json:"dropped_lag"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// StartSession records a new capture and returns its id.
func (db *DB) StartSession(ctx context.Context, s SessionStart) (string, error) {
	id := uuid.NewString()
	dec := s.Decimation
	if dec < 1 {
		dec = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO capture_sessions (
			id, source_kind, source_path, model, firmware, hardware,
			serial_number, health_status, health_code, decimation, start_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(s.Kind), s.Path, s.Diagnostics.Model, s.Diagnostics.Firmware.String(),
		s.Diagnostics.Hardware, s.Diagnostics.Serial, s.Diagnostics.Status.String(),
		s.Diagnostics.ErrorCode, dec, unixSeconds(s.StartedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start capture session: %w", err)
	}
	return id, nil
}

// RecordPoints stores the retained points of one frame in a single
// transaction.
func (db *DB) RecordPoints(ctx context.Context, sessionID string, frameSeq int64, ts time.Time, points []scan.Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO capture_points (session_id, frame_seq, t_unix, quality, angle_deg, dist_mm)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare point insert: %w", err)
	}
	defer stmt.Close()

	t := unixSeconds(ts)
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, sessionID, frameSeq, t, p.Quality, p.AngleDeg, p.DistanceMM); err != nil {
			return fmt.Errorf("failed to insert point: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit points: %w", err)
	}
	return nil
}

// EndSession stores the final counters of a capture.
func (db *DB) EndSession(ctx context.Context, sessionID string, e SessionEnd) error {
	res, err := db.ExecContext(ctx, `
		UPDATE capture_sessions SET
			end_unix = ?,
			final_state = ?,
			raw_points = ?,
			kept_points = ?,
			frames = ?,
			dropped_no_return = ?,
			dropped_filtered = ?,
			dropped_overflow = ?,
			dropped_decimated = ?,
			dropped_lag = ?
		WHERE id = ?`,
		unixSeconds(e.EndedAt), e.FinalState, e.RawPoints, e.KeptPoints, e.Stats.Frames,
		e.Stats.DroppedNoReturn, e.Stats.DroppedFiltered, e.Stats.DroppedOverflow,
		e.Stats.DroppedDecimated, e.Stats.DroppedLag, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end capture session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

const sessionColumns = `
	id, source_kind, source_path, model, firmware, hardware, serial_number,
	health_status, health_code, decimation, start_unix, end_unix, final_state,
	raw_points, kept_points, frames, dropped_no_return, dropped_filtered, dropped_overflow,
	dropped_decimated, dropped_lag`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var s Session
	var model, firmware, serial, health, final sql.NullString
	var hardware, code sql.NullInt64
	var end sql.NullFloat64
	err := r.Scan(&s.ID, &s.SourceKind, &s.SourcePath, &model, &firmware, &hardware, &serial,
		&health, &code, &s.Decimation, &s.StartUnix, &end, &final,
		&s.RawPoints, &s.KeptPoints, &s.Frames, &s.DroppedNoReturn, &s.DroppedFiltered, &s.DroppedOverflow,
		&s.DroppedDecimated, &s.DroppedLag)
	if err != nil {
		return Session{}, err
	}
	s.Model, s.Firmware, s.SerialNumber = model.String, firmware.String, serial.String
	s.HealthStatus, s.FinalState = health.String, final.String
	s.Hardware, s.HealthCode = int(hardware.Int64), int(code.Int64)
	if end.Valid {
		v := end.Float64
		s.EndUnix = &v
	}
	return s, nil
}

// GetSession loads one session.
func (db *DB) GetSession(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM capture_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load capture session: %w", err)
	}
	return s, nil
}

// ListSessions returns the most recent sessions first.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM capture_sessions ORDER BY start_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query capture sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capture session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
