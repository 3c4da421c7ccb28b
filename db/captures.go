package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/clip-tender/capture"
)

// CaptureStore persists captures in the captures table. Updates and deletes carry the
// expected version in their WHERE clause; zero affected rows means the race was lost.
type CaptureStore struct {
	DB *sql.DB
}

// NewCaptureStore returns a store over db.
func NewCaptureStore(db *sql.DB) *CaptureStore {
	return &CaptureStore{DB: db}
}

const captureColumns = `id, streamer_id, streamer_name, source_type, timestamp_seconds,
	broadcast_id, vod_id, vod_offset_seconds, recorded_at, memo, completed_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(row rowScanner) (capture.Capture, error) {
	var (
		c                      capture.Capture
		source                 string
		broadcast, vodID, memo sql.NullString
		offset                 sql.NullInt64
		completedAt            sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.StreamerID, &c.StreamerName, &source, &c.TimestampSeconds,
		&broadcast, &vodID, &offset, &c.RecordedAt, &memo, &completedAt, &c.Version); err != nil {
		return capture.Capture{}, err
	}
	c.SourceType = capture.SourceType(source)
	c.BroadcastID = broadcast.String
	c.Memo = memo.String
	c.RecordedAt = c.RecordedAt.UTC()
	if vodID.Valid && offset.Valid {
		c = c.WithLink(vodID.String, int(offset.Int64))
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		c.CompletedAt = &t
	}
	return c, nil
}

// List returns every capture ordered by recorded_at, id.
func (s *CaptureStore) List(ctx context.Context) ([]capture.Capture, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+captureColumns+` FROM captures ORDER BY recorded_at, id`)
	if err != nil {
		return nil, capture.Transient("list captures", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]capture.Capture, 0)
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, capture.Transient("list captures", err)
	}
	return out, nil
}

// Get returns one capture or capture.ErrNotFound.
func (s *CaptureStore) Get(ctx context.Context, id string) (capture.Capture, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id=$1`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capture.Capture{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.Capture{}, capture.Transient("get capture", err)
	}
	return c, nil
}

// Put inserts (Version == 0) or conditionally updates c.
func (s *CaptureStore) Put(ctx context.Context, c capture.Capture) (capture.Capture, error) {
	var offset sql.NullInt64
	if c.VODOffsetSeconds != nil {
		offset = sql.NullInt64{Int64: int64(*c.VODOffsetSeconds), Valid: true}
	}
	var completedAt sql.NullTime
	if c.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *c.CompletedAt, Valid: true}
	}
	next := c.Clone()
	next.Version = c.Version + 1

	if c.Version == 0 {
		res, err := s.DB.ExecContext(ctx, `INSERT INTO captures (`+captureColumns+`, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,NOW(),NOW())
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.StreamerID, c.StreamerName, string(c.SourceType), c.TimestampSeconds,
			nullString(c.BroadcastID), nullString(c.VODID), offset, c.RecordedAt, nullString(c.Memo), completedAt)
		if err != nil {
			return capture.Capture{}, capture.Transient("insert capture", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return capture.Capture{}, capture.ErrConflict
		}
		return next, nil
	}

	// streamer, source and recorded_at are immutable and never rewritten
	res, err := s.DB.ExecContext(ctx, `UPDATE captures SET
			broadcast_id=$1, vod_id=$2, vod_offset_seconds=$3, memo=$4, completed_at=$5,
			version=version+1, updated_at=NOW()
		WHERE id=$6 AND version=$7`,
		nullString(c.BroadcastID), nullString(c.VODID), offset, nullString(c.Memo), completedAt, c.ID, c.Version)
	if err != nil {
		return capture.Capture{}, capture.Transient("update capture", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return capture.Capture{}, s.missOrConflict(ctx, c.ID)
	}
	return next, nil
}

// Delete removes id; a non-zero version makes it conditional.
func (s *CaptureStore) Delete(ctx context.Context, id string, version int64) error {
	var (
		res sql.Result
		err error
	)
	if version == 0 {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM captures WHERE id=$1`, id)
	} else {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM captures WHERE id=$1 AND version=$2`, id, version)
	}
	if err != nil {
		return capture.Transient("delete capture", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *CaptureStore) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM captures WHERE id=$1)`, id).Scan(&exists); err != nil {
		return capture.Transient("check capture", err)
	}
	if exists {
		return capture.ErrConflict
	}
	return capture.ErrNotFound
}

// PendingStreamers returns streamers with live captures still awaiting a VOD, recorded after since.
func (s *CaptureStore) PendingStreamers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT streamer_id FROM captures
		WHERE source_type='live' AND vod_id IS NULL AND recorded_at >= $1 ORDER BY streamer_id`, since)
	if err != nil {
		return nil, capture.Transient("pending streamers", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
