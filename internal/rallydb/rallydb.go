// Package rallydb persists pipeline runs and their rally segments in a
// local sqlite database.
package rallydb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/courtside-data/rallycut/internal/rally"
)

// DB wraps the sqlite handle for rally analysis storage.
type DB struct {
	*sql.DB
}

// schema.sql contains the SQL statements for creating the rally analysis
// schema: one table for runs and one for the segments each run produced.
//
//go:embed schema.sql
var schemaSQL string

// Open opens (creating if needed) the rally database at path and applies the
// baseline schema. Pragmas ride on the DSN so every pooled connection gets
// them.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rally database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply rally schema: %w", err)
	}
	return &DB{db}, nil
}

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	RunID            string
	VideoPath        string
	Outcome          rally.Outcome
	VideoDuration    float64
	FramesSeen       int
	TotalDetections  int
	DetectorFailures int
	TracksClosed     int
	CoveragePercent  float64
	CreatedAt        time.Time
}

// SaveRun stores a completed pipeline result and its segments in one
// transaction.
func (d *DB) SaveRun(videoPath string, res rally.Result) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analysis_runs (
			run_id, video_path, outcome, video_duration_secs,
			frames_seen, frames_with_detections, rally_frames,
			total_detections, detector_failures, tracks_closed,
			valid_trajectories, avg_confidence, coverage_percent, compression_ratio
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, videoPath, string(res.Outcome), res.VideoDuration,
		res.Stats.FramesSeen, res.Stats.FramesWithDetections, res.Stats.RallyFrames,
		res.Stats.TotalDetections, res.Stats.DetectorFailures, res.Stats.TracksClosed,
		res.Stats.ValidTrajectories, res.Stats.AvgConfidence(),
		res.Export.CoveragePercent, res.Export.CompressionRatio,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}

	for _, seg := range res.Segments {
		_, err = tx.Exec(`
			INSERT INTO rally_segments (
				run_id, start_secs, end_secs, confidence, quality,
				detection_count, avg_traj_length, contacts
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, seg.Start, seg.End, seg.Confidence, seg.Quality,
			seg.DetectionCount, seg.AvgTrajLength, seg.Contacts,
		)
		if err != nil {
			return fmt.Errorf("insert segment [%f, %f] for run %s: %w", seg.Start, seg.End, res.RunID, err)
		}
	}

	return tx.Commit()
}

// GetRun fetches one run by ID.
func (d *DB) GetRun(runID string) (RunRecord, error) {
	var r RunRecord
	var outcome string
	err := d.QueryRow(`
		SELECT run_id, video_path, outcome, video_duration_secs,
		       frames_seen, total_detections, detector_failures, tracks_closed,
		       coverage_percent, created_at
		FROM analysis_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.VideoPath, &outcome, &r.VideoDuration,
		&r.FramesSeen, &r.TotalDetections, &r.DetectorFailures, &r.TracksClosed,
		&r.CoveragePercent, &r.CreatedAt,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	r.Outcome = rally.Outcome(outcome)
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := d.Query(`
		SELECT run_id, video_path, outcome, video_duration_secs,
		       frames_seen, total_detections, detector_failures, tracks_closed,
		       coverage_percent, created_at
		FROM analysis_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var outcome string
		if err := rows.Scan(
			&r.RunID, &r.VideoPath, &outcome, &r.VideoDuration,
			&r.FramesSeen, &r.TotalDetections, &r.DetectorFailures, &r.TracksClosed,
			&r.CoveragePercent, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = rally.Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SegmentsForRun returns a run's rally segments in ascending start order.
func (d *DB) SegmentsForRun(runID string) ([]rally.RallySegment, error) {
	rows, err := d.Query(`
		SELECT start_secs, end_secs, confidence, quality,
		       detection_count, avg_traj_length, contacts
		FROM rally_segments WHERE run_id = ? ORDER BY start_secs`, runID)
	if err != nil {
		return nil, fmt.Errorf("segments for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []rally.RallySegment
	for rows.Next() {
		var s rally.RallySegment
		if err := rows.Scan(
			&s.Start, &s.End, &s.Confidence, &s.Quality,
			&s.DetectionCount, &s.AvgTrajLength, &s.Contacts,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, via the foreign key cascade, its segments.
func (d *DB) DeleteRun(runID string) error {
	if _, err := d.Exec(`DELETE FROM analysis_runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}
