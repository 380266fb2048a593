// Package recorder keeps an optional sqlite log of what the environment
// manager broadcasts: every transform pair, every roadway snapshot and
// every system alert seen on the bus.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/monitoring"
	"github.com/banshee-data/roadway/internal/timeutil"
)

var logf = monitoring.Component("Recorder")

// Topics the recorder subscribes to.
var Topics = []string{
	messages.TopicTransformBroadcast,
	messages.TopicRoadwayEnvironment,
	messages.TopicSystemAlert,
}

// Recorder writes bus traffic into a sqlite database.
type Recorder struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Recorder, error) {
	return OpenWithClock(path, timeutil.RealClock{})
}

// OpenWithClock is Open with an explicit clock for recorded_at stamps.
func OpenWithClock(path string, clock timeutil.Clock) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	r := &Recorder{db: db, path: path, clock: clock}
	if err := r.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// DB exposes the underlying handle for read-only inspection.
func (r *Recorder) DB() *sql.DB { return r.db }

func (r *Recorder) Close() error {
	return r.db.Close()
}

// RecordTransforms stores each transform of a broadcast.
func (r *Recorder) RecordTransforms(tf messages.TFMessage) error {
	now := r.clock.Now().UnixNano()
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO transform_broadcasts
		(recorded_at, stamp, target_frame, source_frame, tx, ty, tz, qx, qy, qz, qw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ts := range tf.Transforms {
		t, q := ts.Transform.Translation, ts.Transform.Rotation
		if _, err := stmt.Exec(now, ts.Header.Stamp.UnixNano(), ts.Header.FrameID, ts.ChildFrameID,
			t.X, t.Y, t.Z, q.X, q.Y, q.Z, q.W); err != nil {
			return fmt.Errorf("failed to insert transform %s->%s: %w", ts.Header.FrameID, ts.ChildFrameID, err)
		}
	}
	return tx.Commit()
}

// RecordSnapshot stores env keyed by its sequence number. A repeated
// sequence replaces the earlier row.
func (r *Recorder) RecordSnapshot(env *messages.RoadwayEnvironment) error {
	if env == nil {
		return errors.New("nil snapshot")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	host := env.HostVehicle.Object.Pose.Pose.Position
	_, err = r.db.Exec(`INSERT OR REPLACE INTO roadway_snapshots
		(sequence, recorded_at, stamp, lane_count, other_vehicle_count, host_x, host_y, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(env.Sequence), r.clock.Now().UnixNano(), env.Header.Stamp.UnixNano(),
		len(env.Lanes), len(env.OtherVehicles), host.X, host.Y, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot %d: %w", env.Sequence, err)
	}
	return nil
}

func (r *Recorder) RecordAlert(alert messages.SystemAlert) error {
	_, err := r.db.Exec(`INSERT INTO system_alerts (recorded_at, alert_type, description, source)
		VALUES (?, ?, ?, ?)`,
		r.clock.Now().UnixNano(), int(alert.Type), alert.Description, alert.Source)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Record stores one bus message. Topics other than Topics are ignored.
func (r *Recorder) Record(msg bus.Message) error {
	switch p := msg.Payload.(type) {
	case messages.TFMessage:
		return r.RecordTransforms(p)
	case *messages.TFMessage:
		return r.RecordTransforms(*p)
	case messages.RoadwayEnvironment:
		return r.RecordSnapshot(&p)
	case *messages.RoadwayEnvironment:
		return r.RecordSnapshot(p)
	case messages.SystemAlert:
		return r.RecordAlert(p)
	case *messages.SystemAlert:
		return r.RecordAlert(*p)
	}
	return nil
}

// Run records messages from sub until ctx is cancelled or the bus closes.
// When retention is positive, rows older than retention are pruned every
// pruneEvery.
func (r *Recorder) Run(ctx context.Context, sub bus.Subscriber, retention, pruneEvery time.Duration) {
	id, c := sub.Subscribe(Topics...)
	defer sub.Unsubscribe(id)

	var pruneC <-chan time.Time
	if retention > 0 && pruneEvery > 0 {
		ticker := r.clock.NewTicker(pruneEvery)
		defer ticker.Stop()
		pruneC = ticker.C()
	}

	var recorded, failed uint64
	defer func() {
		logf("stopped: recorded=%d failed=%d", recorded, failed)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c:
			if !ok {
				return
			}
			if err := r.Record(msg); err != nil {
				failed++
				logf("failed to record %s seq=%d: %v", msg.Topic, msg.Seq, err)
				continue
			}
			recorded++
		case now := <-pruneC:
			n, err := r.Prune(now.Add(-retention))
			if err != nil {
				logf("prune failed: %v", err)
			} else if n > 0 {
				logf("pruned %d rows older than %s", n, retention)
			}
		}
	}
}

// Prune deletes rows recorded before cutoff and returns how many went.
func (r *Recorder) Prune(cutoff time.Time) (int64, error) {
	c := cutoff.UnixNano()
	var total int64
	for _, table := range []string{"transform_broadcasts", "roadway_snapshots", "system_alerts"} {
		res, err := r.db.Exec("DELETE FROM "+table+" WHERE recorded_at < ?", c)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
