// internal/database/db.go
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"copperline/internal/editlog"
	"copperline/internal/geometry"
)

// Database wraps the SQLite trace store: the durable record of every
// finished route, reloaded into the edit log on startup.
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		net_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS route_segments (
		route_id TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		layer TEXT NOT NULL,
		width REAL NOT NULL,
		path TEXT NOT NULL,
		FOREIGN KEY (route_id) REFERENCES routes(id)
	);

	CREATE TABLE IF NOT EXISTS route_vias (
		route_id TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		size REAL NOT NULL,
		FOREIGN KEY (route_id) REFERENCES routes(id)
	);

	CREATE INDEX IF NOT EXISTS idx_route_segments_route ON route_segments(route_id);
	CREATE INDEX IF NOT EXISTS idx_route_vias_route ON route_vias(route_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveRoute stores a finished route, replacing any previous record
// with the same id.
func (d *Database) SaveRoute(view editlog.RouteView) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM route_segments WHERE route_id = ?`, view.RouteID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM route_vias WHERE route_id = ?`, view.RouteID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO routes (id, net_id) VALUES (?, ?)`,
		view.RouteID, view.NetID); err != nil {
		return err
	}

	for _, seg := range view.Segments {
		pathJSON, err := json.Marshal(seg.Path)
		if err != nil {
			return fmt.Errorf("marshal path: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO route_segments (route_id, segment_index, layer, width, path)
			VALUES (?, ?, ?, ?, ?)`,
			seg.RouteID, seg.SegmentIndex, seg.Layer, seg.Width, string(pathJSON)); err != nil {
			return err
		}
	}

	for _, via := range view.Vias {
		if _, err := tx.Exec(`
			INSERT INTO route_vias (route_id, segment_index, x, y, size)
			VALUES (?, ?, ?, ?, ?)`,
			via.RouteID, via.SegmentIndex, via.X, via.Y, via.Size); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadAll returns every stored segment and via, for restoring the
// edit log after a restart.
func (d *Database) LoadAll() ([]editlog.Segment, []editlog.Via, error) {
	netByRoute, err := d.loadNets()
	if err != nil {
		return nil, nil, err
	}

	segments, err := d.loadSegments(netByRoute)
	if err != nil {
		return nil, nil, err
	}

	vias, err := d.loadVias(netByRoute)
	if err != nil {
		return nil, nil, err
	}

	return segments, vias, nil
}

func (d *Database) loadNets() (map[string]string, error) {
	rows, err := d.db.Query(`SELECT id, COALESCE(net_id, '') FROM routes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, netID string
		if err := rows.Scan(&id, &netID); err != nil {
			return nil, err
		}
		out[id] = netID
	}
	return out, rows.Err()
}

func (d *Database) loadSegments(netByRoute map[string]string) ([]editlog.Segment, error) {
	rows, err := d.db.Query(`
		SELECT route_id, segment_index, layer, width, path
		FROM route_segments ORDER BY route_id, segment_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []editlog.Segment
	for rows.Next() {
		var seg editlog.Segment
		var pathJSON string
		if err := rows.Scan(&seg.RouteID, &seg.SegmentIndex, &seg.Layer, &seg.Width, &pathJSON); err != nil {
			return nil, err
		}
		var path []geometry.Point
		if err := json.Unmarshal([]byte(pathJSON), &path); err != nil {
			return nil, fmt.Errorf("unmarshal path for %s[%d]: %w", seg.RouteID, seg.SegmentIndex, err)
		}
		seg.Path = path
		seg.NetID = netByRoute[seg.RouteID]
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func (d *Database) loadVias(netByRoute map[string]string) ([]editlog.Via, error) {
	rows, err := d.db.Query(`
		SELECT route_id, segment_index, x, y, size
		FROM route_vias ORDER BY route_id, segment_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vias []editlog.Via
	for rows.Next() {
		var via editlog.Via
		if err := rows.Scan(&via.RouteID, &via.SegmentIndex, &via.X, &via.Y, &via.Size); err != nil {
			return nil, err
		}
		via.NetID = netByRoute[via.RouteID]
		vias = append(vias, via)
	}
	return vias, rows.Err()
}

// ListRoutes returns the stored routes as derived views.
func (d *Database) ListRoutes() ([]editlog.RouteView, error) {
	segments, vias, err := d.LoadAll()
	if err != nil {
		return nil, err
	}

	byRoute := make(map[string]*editlog.RouteView)
	var order []string
	for _, seg := range segments {
		view, ok := byRoute[seg.RouteID]
		if !ok {
			view = &editlog.RouteView{RouteID: seg.RouteID, NetID: seg.NetID}
			byRoute[seg.RouteID] = view
			order = append(order, seg.RouteID)
		}
		view.Segments = append(view.Segments, seg)
	}
	for _, via := range vias {
		if view, ok := byRoute[via.RouteID]; ok {
			view.Vias = append(view.Vias, via)
		}
	}

	out := make([]editlog.RouteView, 0, len(order))
	for _, id := range order {
		out = append(out, *byRoute[id])
	}
	return out, nil
}

// DeleteRoute removes a stored route and all its entries.
func (d *Database) DeleteRoute(routeID string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM route_segments WHERE route_id = ?`,
		`DELETE FROM route_vias WHERE route_id = ?`,
		`DELETE FROM routes WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, routeID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteSegment removes one stored segment plus any via sharing its
// index, mirroring the edit log's renumbering so the store and the
// in-memory log never disagree about indices.
func (d *Database) DeleteSegment(addr editlog.Address) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM route_segments WHERE route_id = ? AND segment_index = ?`,
		addr.RouteID, addr.SegmentIndex)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no stored segment at %s[%d]", addr.RouteID, addr.SegmentIndex)
	}

	if _, err := tx.Exec(`DELETE FROM route_vias WHERE route_id = ? AND segment_index = ?`,
		addr.RouteID, addr.SegmentIndex); err != nil {
		return err
	}

	// Close the index gap
	if _, err := tx.Exec(`
		UPDATE route_segments SET segment_index = segment_index - 1
		WHERE route_id = ? AND segment_index > ?`,
		addr.RouteID, addr.SegmentIndex); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE route_vias SET segment_index = segment_index - 1
		WHERE route_id = ? AND segment_index > ?`,
		addr.RouteID, addr.SegmentIndex); err != nil {
		return err
	}

	// Drop the route row once nothing references it
	if _, err := tx.Exec(`
		DELETE FROM routes WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM route_segments WHERE route_id = ?)
		AND NOT EXISTS (SELECT 1 FROM route_vias WHERE route_id = ?)`,
		addr.RouteID, addr.RouteID, addr.RouteID); err != nil {
		return err
	}

	return tx.Commit()
}
