// Package recording persists camera footage to disk in timed segments and
// keeps recording and event metadata in SQLite.
package recording

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/visora/visora/internal/database"
)

// Recording is one segment file on disk. EndTime is nil while the segment
// is still being written.
type Recording struct {
	ID        int64      `json:"id"`
	CameraID  string     `json:"camera_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	FilePath  string     `json:"file_path"`
	FileSize  int64      `json:"file_size"`
	Duration  float64    `json:"duration"`
	HasMotion bool       `json:"has_motion"`
	Metadata  string     `json:"metadata,omitempty"`
}

// Event is a log entry attached to a recording.
type Event struct {
	ID          int64     `json:"id"`
	RecordingID int64     `json:"recording_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
}

// ListOptions filters recording queries. Zero values mean no filter.
type ListOptions struct {
	CameraID  string
	Start     *time.Time
	End       *time.Time
	HasMotion *bool
	Limit     int
	Offset    int
}

// Store is the SQLite-backed metadata store for recordings and events.
type Store struct {
	db *database.DB
}

// NewStore creates a store on an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the recordings and events tables.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			file_path TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			duration REAL NOT NULL DEFAULT 0,
			has_motion INTEGER NOT NULL DEFAULT 0,
			metadata TEXT
		);

		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			description TEXT,
			FOREIGN KEY (recording_id) REFERENCES recordings(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_recordings_camera_time ON recordings(camera_id, start_time);
		CREATE INDEX IF NOT EXISTS idx_recordings_start_time ON recordings(start_time);
		CREATE INDEX IF NOT EXISTS idx_events_recording ON events(recording_id);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// InsertRecording creates an open recording row and returns its ID.
func (s *Store) InsertRecording(ctx context.Context, cameraID string, start time.Time, path string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (camera_id, start_time, file_path)
		VALUES (?, ?, ?)
	`, cameraID, start.Unix(), path)
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert recording id: %w", err)
	}
	return id, nil
}

// CloseRecording finalizes an open recording row. Closing an already
// closed or unknown recording is an error.
func (s *Store) CloseRecording(ctx context.Context, id int64, end time.Time, size int64, duration float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET end_time = ?, file_size = ?, duration = ?
		WHERE id = ? AND end_time IS NULL
	`, end.Unix(), size, duration, id)
	if err != nil {
		return fmt.Errorf("close recording %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close recording %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("recording %d not open", id)
	}
	return nil
}

// SetHasMotion flags a recording as containing motion.
func (s *Store) SetHasMotion(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recordings SET has_motion = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("set has_motion on recording %d: %w", id, err)
	}
	return nil
}

// Get returns one recording by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, start_time, end_time, file_path, file_size, duration, has_motion, metadata
		FROM recordings WHERE id = ?
	`, id)
	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording %d not found", id)
	}
	return rec, err
}

// OpenRecording returns the camera's recording with no end_time, or nil
// if the camera is not recording.
func (s *Store) OpenRecording(ctx context.Context, cameraID string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, start_time, end_time, file_path, file_size, duration, has_motion, metadata
		FROM recordings WHERE camera_id = ? AND end_time IS NULL
		ORDER BY start_time DESC LIMIT 1
	`, cameraID)
	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns recordings matching the options, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Recording, error) {
	var where []string
	var args []interface{}
	if opts.CameraID != "" {
		where = append(where, "camera_id = ?")
		args = append(args, opts.CameraID)
	}
	if opts.Start != nil {
		where = append(where, "start_time >= ?")
		args = append(args, opts.Start.Unix())
	}
	if opts.End != nil {
		where = append(where, "start_time <= ?")
		args = append(args, opts.End.Unix())
	}
	if opts.HasMotion != nil {
		where = append(where, "has_motion = ?")
		args = append(args, boolToInt(*opts.HasMotion))
	}

	query := `SELECT id, camera_id, start_time, end_time, file_path, file_size, duration, has_motion, metadata FROM recordings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// OlderThan returns closed recordings that started before the cutoff,
// oldest first, so retention deletes the oldest footage first.
func (s *Store) OlderThan(ctx context.Context, cutoff time.Time) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, camera_id, start_time, end_time, file_path, file_size, duration, has_motion, metadata
		FROM recordings
		WHERE start_time < ? AND end_time IS NOT NULL
		ORDER BY start_time ASC
	`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query old recordings: %w", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// Delete removes a recording row. Events cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %d: %w", id, err)
	}
	return nil
}

// InsertEvent attaches an event to the camera's most recent recording.
// If the camera has no recordings the event is dropped.
func (s *Store) InsertEvent(ctx context.Context, cameraID, eventType, description string) error {
	var recordingID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM recordings WHERE camera_id = ?
		ORDER BY start_time DESC, id DESC LIMIT 1
	`, cameraID).Scan(&recordingID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve recording for event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (recording_id, event_type, timestamp, description)
		VALUES (?, ?, ?, ?)
	`, recordingID, eventType, time.Now().Unix(), description)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsForRecording returns a recording's events in chronological order.
func (s *Store) EventsForRecording(ctx context.Context, recordingID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recording_id, event_type, timestamp, description
		FROM events WHERE recording_id = ? ORDER BY timestamp ASC, id ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts int64
		var desc sql.NullString
		if err := rows.Scan(&e.ID, &e.RecordingID, &e.EventType, &ts, &desc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Description = desc.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CameraUsage is per-camera storage accounting.
type CameraUsage struct {
	CameraID   string `json:"camera_id"`
	Recordings int    `json:"recordings"`
	TotalBytes int64  `json:"total_bytes"`
}

// UsageByCamera returns recording counts and byte totals per camera.
func (s *Store) UsageByCamera(ctx context.Context) ([]CameraUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT camera_id, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM recordings GROUP BY camera_id ORDER BY camera_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var usage []CameraUsage
	for rows.Next() {
		var u CameraUsage
		if err := rows.Scan(&u.CameraID, &u.Recordings, &u.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	var rec Recording
	var start int64
	var end sql.NullInt64
	var meta sql.NullString
	err := row.Scan(&rec.ID, &rec.CameraID, &start, &end, &rec.FilePath,
		&rec.FileSize, &rec.Duration, &rec.HasMotion, &meta)
	if err != nil {
		return nil, err
	}
	rec.StartTime = time.Unix(start, 0)
	if end.Valid {
		t := time.Unix(end.Int64, 0)
		rec.EndTime = &t
	}
	rec.Metadata = meta.String
	return &rec, nil
}

func scanRecordings(rows *sql.Rows) ([]*Recording, error) {
	var recs []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
