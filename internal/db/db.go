// Package db persists measurement history and map snapshots in SQLite.
//
// The XML files remain the canonical interchange format for the map itself;
// this store keeps what the XML cannot: a log of offered detection pairs
// (accepted or not) and periodic whole-map snapshots for
// rollback and diagnosis.
package db

import (
	"compress/gzip"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite handle with tagmap-specific stores.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the database at path and brings the
// schema up to date.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}

	// WAL allows concurrent reads during writes; the busy timeout avoids
	// immediate "database is locked" errors from the monitor endpoints.
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	if err := db.MigrateUp(fsys); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// PairMeasurement is one row of the pair log: an arc measurement recorded
// for an offered detection pair, with whether the engine kept the offer.
// The measurement fields hold whatever the caller passes.
type PairMeasurement struct {
	RunID     string
	TakenUnix int64
	FromTagID int
	ToTagID   int
	FromTwist float64
	Distance  float64
	ToTwist   float64
	Goodness  float64
	Accepted  bool
}

// RecordPairMeasurement appends one measurement to the log.
func (db *DB) RecordPairMeasurement(m *PairMeasurement) error {
	_, err := db.Exec(`
		INSERT INTO pair_measurement
			(run_id, taken_unix_nanos, from_tag_id, to_tag_id, from_twist, distance, to_twist, goodness, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.TakenUnix, m.FromTagID, m.ToTagID,
		m.FromTwist, m.Distance, m.ToTwist, m.Goodness, boolToInt(m.Accepted))
	if err != nil {
		return fmt.Errorf("failed to record pair measurement: %w", err)
	}
	return nil
}

// ListPairMeasurements returns the most recent measurements for a pair, in
// reverse insertion order. Pass limit <= 0 for a default of 100.
func (db *DB) ListPairMeasurements(fromID, toID, limit int) ([]*PairMeasurement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT run_id, taken_unix_nanos, from_tag_id, to_tag_id, from_twist, distance, to_twist, goodness, accepted
		FROM pair_measurement
		WHERE from_tag_id = ? AND to_tag_id = ?
		ORDER BY measurement_id DESC LIMIT ?`,
		fromID, toID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PairMeasurement
	for rows.Next() {
		var m PairMeasurement
		var accepted int
		if err := rows.Scan(&m.RunID, &m.TakenUnix, &m.FromTagID, &m.ToTagID,
			&m.FromTwist, &m.Distance, &m.ToTwist, &m.Goodness, &accepted); err != nil {
			return nil, err
		}
		m.Accepted = accepted != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MapSnapshot is one persisted whole-map state.
type MapSnapshot struct {
	SnapshotID *int64
	TakenUnix  int64
	TagsCount  int
	ArcsCount  int
	MapXML     []byte
	Reason     string
}

// InsertMapSnapshot stores a snapshot and returns its id.
func (db *DB) InsertMapSnapshot(s *MapSnapshot) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO map_snapshot (taken_unix_nanos, tags_count, arcs_count, map_xml, snapshot_reason)
		VALUES (?, ?, ?, ?, ?)`,
		s.TakenUnix, s.TagsCount, s.ArcsCount, s.MapXML, s.Reason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert map snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LatestMapSnapshot returns the most recent snapshot, or nil when the table
// is empty.
func (db *DB) LatestMapSnapshot() (*MapSnapshot, error) {
	row := db.QueryRow(`
		SELECT snapshot_id, taken_unix_nanos, tags_count, arcs_count, map_xml, snapshot_reason
		FROM map_snapshot ORDER BY snapshot_id DESC LIMIT 1`)

	var s MapSnapshot
	var id int64
	err := row.Scan(&id, &s.TakenUnix, &s.TagsCount, &s.ArcsCount, &s.MapXML, &s.Reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.SnapshotID = &id
	return &s, nil
}

// ListMapSnapshots returns snapshot metadata (without the XML payload) for
// the most recent limit snapshots.
func (db *DB) ListMapSnapshots(limit int) ([]*MapSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT snapshot_id, taken_unix_nanos, tags_count, arcs_count, snapshot_reason
		FROM map_snapshot ORDER BY snapshot_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MapSnapshot
	for rows.Next() {
		var s MapSnapshot
		var id int64
		if err := rows.Scan(&id, &s.TakenUnix, &s.TagsCount, &s.ArcsCount, &s.Reason); err != nil {
			return nil, err
		}
		s.SnapshotID = &id
		out = append(out, &s)
	}
	return out, rows.Err()
}

// DatabaseStats summarizes table sizes plus the measurement goodness
// distribution across the whole log.
type DatabaseStats struct {
	Measurements int64   `json:"measurements"`
	Accepted     int64   `json:"accepted"`
	Snapshots    int64   `json:"snapshots"`
	GoodnessP50  float64 `json:"goodness_p50"`
	GoodnessP95  float64 `json:"goodness_p95"`
	GoodnessMean float64 `json:"goodness_mean"`
}

// GetDatabaseStats gathers counts and goodness quantiles.
func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	stats := &DatabaseStats{}
	if err := db.QueryRow(`SELECT COUNT(*) FROM pair_measurement`).Scan(&stats.Measurements); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM pair_measurement WHERE accepted = 1`).Scan(&stats.Accepted); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM map_snapshot`).Scan(&stats.Snapshots); err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT goodness FROM pair_measurement`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var goodness []float64
	for rows.Next() {
		var g float64
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		goodness = append(goodness, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(goodness) > 0 {
		sort.Float64s(goodness)
		stats.GoodnessMean = stat.Mean(goodness, nil)
		stats.GoodnessP50 = stat.Quantile(0.5, stat.Empirical, goodness, nil)
		stats.GoodnessP95 = stat.Quantile(0.95, stat.Empirical, goodness, nil)
	}
	return stats, nil
}

// AttachAdminRoutes mounts the debug surface: a tailsql live SQL console,
// db-stats JSON, and a gzip backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://tagmap.db", db.DB, &tailsql.DBOptions{
		Label: "Tagmap DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Measurement log and snapshot stats (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats, err := db.GetDatabaseStats()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get database stats: %v", err), http.StatusInternalServerError)
			return
		}
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode stats: %v", err), http.StatusInternalServerError)
			return
		}
	}))

	debug.Handle("backup", "Create and download a gzip backup of the database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
