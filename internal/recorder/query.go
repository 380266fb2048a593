package recorder

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/roadway/internal/messages"
)

// SnapshotSummary is one row of roadway_snapshots without its payload.
type SnapshotSummary struct {
	Sequence          uint64    `json:"sequence"`
	RecordedAt        time.Time `json:"recorded_at"`
	Stamp             time.Time `json:"stamp"`
	LaneCount         int       `json:"lane_count"`
	OtherVehicleCount int       `json:"other_vehicle_count"`
	HostX             float64   `json:"host_x"`
	HostY             float64   `json:"host_y"`
}

// RecentSnapshots returns up to limit summaries, newest sequence first.
func (r *Recorder) RecentSnapshots(limit int) ([]SnapshotSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`SELECT sequence, recorded_at, stamp, lane_count, other_vehicle_count, host_x, host_y
		FROM roadway_snapshots ORDER BY sequence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var seq, recordedAt, stamp int64
		if err := rows.Scan(&seq, &recordedAt, &stamp, &s.LaneCount, &s.OtherVehicleCount, &s.HostX, &s.HostY); err != nil {
			return nil, err
		}
		s.Sequence = uint64(seq)
		s.RecordedAt = time.Unix(0, recordedAt).UTC()
		s.Stamp = time.Unix(0, stamp).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot returns the recorded snapshot with the given sequence, or
// (nil, nil) when there is none.
func (r *Recorder) Snapshot(seq uint64) (*messages.RoadwayEnvironment, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload_json FROM roadway_snapshots WHERE sequence = ?`, int64(seq)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env messages.RoadwayEnvironment
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %d: %w", seq, err)
	}
	return &env, nil
}

// TransformRow is one recorded transform.
type TransformRow struct {
	RecordedAt time.Time                 `json:"recorded_at"`
	Transform  messages.TransformStamped `json:"transform"`
}

// RecentTransforms returns up to limit transforms, newest first.
func (r *Recorder) RecentTransforms(limit int) ([]TransformRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`SELECT recorded_at, stamp, target_frame, source_frame, tx, ty, tz, qx, qy, qz, qw
		FROM transform_broadcasts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransformRow
	for rows.Next() {
		var row TransformRow
		var recordedAt, stamp int64
		ts := &row.Transform
		t, q := &ts.Transform.Translation, &ts.Transform.Rotation
		if err := rows.Scan(&recordedAt, &stamp, &ts.Header.FrameID, &ts.ChildFrameID,
			&t.X, &t.Y, &t.Z, &q.X, &q.Y, &q.Z, &q.W); err != nil {
			return nil, err
		}
		row.RecordedAt = time.Unix(0, recordedAt).UTC()
		ts.Header.Stamp = time.Unix(0, stamp).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Counts returns the row count of each table.
func (r *Recorder) Counts() (map[string]int64, error) {
	out := make(map[string]int64, 3)
	for _, table := range []string{"transform_broadcasts", "roadway_snapshots", "system_alerts"} {
		var n int64
		if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
