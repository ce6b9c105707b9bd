// Package netlist loads the board's connection-point metadata and
// answers coordinate lookups for snapping and net matching. The file
// is produced by an external tool; it is reloaded when it changes so
// the controller never works from a stale pad list.
package netlist

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"copperline/internal/geometry"
)

// ConnectionPoint is a pad or via terminal belonging to a net. An
// empty NetID marks an unconnected point.
type ConnectionPoint struct {
	Name  string  `yaml:"name" json:"name"`
	NetID string  `yaml:"net,omitempty" json:"net,omitempty"`
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
}

// Position returns the point's board coordinates.
func (cp ConnectionPoint) Position() geometry.Point {
	return geometry.Point{X: cp.X, Y: cp.Y}
}

// boardFile is the on-disk schema.
type boardFile struct {
	Points []ConnectionPoint `yaml:"points"`
}

// Netlist is the in-memory connection-point index.
type Netlist struct {
	mu     sync.RWMutex
	path   string
	points []ConnectionPoint
}

// Load reads the board file at path. A missing file yields an empty
// netlist (unconnected routing still works without one).
func Load(path string) (*Netlist, error) {
	n := &Netlist{path: path}
	if path == "" {
		return n, nil
	}
	if err := n.Reload(); err != nil {
		if os.IsNotExist(err) {
			return n, nil
		}
		return nil, err
	}
	return n, nil
}

// Reload re-reads the board file.
func (n *Netlist) Reload() error {
	data, err := os.ReadFile(n.path)
	if err != nil {
		return err
	}

	var file boardFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse board file %s: %w", n.path, err)
	}

	n.mu.Lock()
	n.points = file.Points
	n.mu.Unlock()
	return nil
}

// At returns the connection point whose coordinates match p within the
// true-coordinate tolerance, if any. This is an exact match in board
// units, not a screen-pixel radius.
func (n *Netlist) At(p geometry.Point) (ConnectionPoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, cp := range n.points {
		if cp.Position().Same(p) {
			return cp, true
		}
	}
	return ConnectionPoint{}, false
}

// NetOf returns every connection point on a net.
func (n *Netlist) NetOf(netID string) []ConnectionPoint {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var out []ConnectionPoint
	for _, cp := range n.points {
		if cp.NetID == netID {
			out = append(out, cp)
		}
	}
	return out
}

// Points returns a copy of every connection point.
func (n *Netlist) Points() []ConnectionPoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]ConnectionPoint(nil), n.points...)
}

// Len returns the number of connection points.
func (n *Netlist) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.points)
}
