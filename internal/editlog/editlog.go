// Package editlog holds the committed trace entries for the board:
// every segment and via that has been committed by a routing session,
// addressable by (routeID, segmentIndex).
package editlog

import (
	"fmt"
	"sort"
	"sync"

	"copperline/internal/geometry"
)

// Address identifies one committed entry. RouteID is stable for the
// life of the route; SegmentIndex is positional and is recomputed when
// earlier entries of the same route are deleted.
type Address struct {
	RouteID      string `json:"route_id"`
	SegmentIndex int    `json:"segment_index"`
}

// Segment is a committed trace piece.
type Segment struct {
	RouteID      string           `json:"route_id"`
	SegmentIndex int              `json:"segment_index"`
	NetID        string           `json:"net_id,omitempty"`
	Layer        string           `json:"layer"`
	Width        float64          `json:"width"`
	Path         []geometry.Point `json:"path"`
}

// Via is a committed layer transition. SegmentIndex is the index of
// the segment the via terminates.
type Via struct {
	RouteID      string  `json:"route_id"`
	SegmentIndex int     `json:"segment_index"`
	NetID        string  `json:"net_id,omitempty"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Size         float64 `json:"size"`
}

// RouteView is a derived, ordered view of one route.
type RouteView struct {
	RouteID  string    `json:"route_id"`
	NetID    string    `json:"net_id,omitempty"`
	Segments []Segment `json:"segments"`
	Vias     []Via     `json:"vias"`
}

// Log is the in-memory store of committed entries plus the current
// selection. All methods are safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	segments  []Segment
	vias      []Via
	selection map[Address]struct{}
}

// New creates an empty Log.
func New() *Log {
	return &Log{
		selection: make(map[Address]struct{}),
	}
}

// AppendSegment appends a segment to a route, assigning the next dense
// index for that route, and returns the stored entry.
func (l *Log) AppendSegment(routeID, netID, layer string, width float64, path []geometry.Point) (Segment, error) {
	if len(path) < 2 {
		return Segment{}, fmt.Errorf("segment path needs at least 2 points, got %d", len(path))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seg := Segment{
		RouteID:      routeID,
		SegmentIndex: l.nextIndexLocked(routeID),
		NetID:        netID,
		Layer:        layer,
		Width:        width,
		Path:         geometry.ClonePath(path),
	}
	l.segments = append(l.segments, seg)
	return seg, nil
}

// AppendVia appends a via to a route, tagged with the index of the
// route's last segment (the segment the via terminates). Callers
// commit the terminating segment before placing its via; on a route
// with no segments yet the via is tagged index 0, which the route's
// first segment would later share.
func (l *Log) AppendVia(routeID, netID string, at geometry.Point, size float64) Via {
	l.mu.Lock()
	defer l.mu.Unlock()

	index := l.nextIndexLocked(routeID) - 1
	if index < 0 {
		index = 0
	}

	via := Via{
		RouteID:      routeID,
		SegmentIndex: index,
		NetID:        netID,
		X:            at.X,
		Y:            at.Y,
		Size:         size,
	}
	l.vias = append(l.vias, via)
	return via
}

// nextIndexLocked returns the next free segment index for a route.
func (l *Log) nextIndexLocked(routeID string) int {
	count := 0
	for _, s := range l.segments {
		if s.RouteID == routeID {
			count++
		}
	}
	return count
}

// Rollback removes exactly the given entries by identity. Entries not
// present are ignored, so a rollback is safe to repeat. Used by session
// cancel, which must remove its own entries regardless of how commits
// and layer switches interleaved.
func (l *Log) Rollback(segments []Segment, vias []Via) {
	l.mu.Lock()
	defer l.mu.Unlock()

	segSet := make(map[Address]struct{}, len(segments))
	for _, s := range segments {
		segSet[Address{s.RouteID, s.SegmentIndex}] = struct{}{}
	}
	viaSet := make(map[Address]struct{}, len(vias))
	for _, v := range vias {
		viaSet[Address{v.RouteID, v.SegmentIndex}] = struct{}{}
	}

	kept := l.segments[:0]
	for _, s := range l.segments {
		if _, gone := segSet[Address{s.RouteID, s.SegmentIndex}]; !gone {
			kept = append(kept, s)
		}
	}
	l.segments = kept

	keptVias := l.vias[:0]
	for _, v := range l.vias {
		if _, gone := viaSet[Address{v.RouteID, v.SegmentIndex}]; !gone {
			keptVias = append(keptVias, v)
		}
	}
	l.vias = keptVias
}

// Delete removes the addressed segment together with any via sharing
// its index, then renumbers every remaining entry of the route with a
// higher index down by one so indices stay dense. It returns true if
// the route still has entries afterwards.
func (l *Log) Delete(addr Address) (remaining bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	kept := l.segments[:0]
	for _, s := range l.segments {
		if s.RouteID == addr.RouteID && s.SegmentIndex == addr.SegmentIndex {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return false, fmt.Errorf("no segment at %s[%d]", addr.RouteID, addr.SegmentIndex)
	}
	l.segments = kept

	keptVias := l.vias[:0]
	for _, v := range l.vias {
		if v.RouteID == addr.RouteID && v.SegmentIndex == addr.SegmentIndex {
			continue
		}
		keptVias = append(keptVias, v)
	}
	l.vias = keptVias

	// Close the index gap for the route
	for i := range l.segments {
		if l.segments[i].RouteID == addr.RouteID && l.segments[i].SegmentIndex > addr.SegmentIndex {
			l.segments[i].SegmentIndex--
		}
	}
	for i := range l.vias {
		if l.vias[i].RouteID == addr.RouteID && l.vias[i].SegmentIndex > addr.SegmentIndex {
			l.vias[i].SegmentIndex--
		}
	}

	// Indices moved, so stale selection entries are meaningless now
	delete(l.selection, addr)
	for sel := range l.selection {
		if sel.RouteID == addr.RouteID {
			delete(l.selection, sel)
		}
	}

	return l.routeHasEntriesLocked(addr.RouteID), nil
}

func (l *Log) routeHasEntriesLocked(routeID string) bool {
	for _, s := range l.segments {
		if s.RouteID == routeID {
			return true
		}
	}
	for _, v := range l.vias {
		if v.RouteID == routeID {
			return true
		}
	}
	return false
}

// Route returns the derived view of one route, segments and vias in
// index order. Returns false if the route has no entries.
func (l *Log) Route(routeID string) (RouteView, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.routeLocked(routeID)
}

func (l *Log) routeLocked(routeID string) (RouteView, bool) {
	view := RouteView{RouteID: routeID}
	for _, s := range l.segments {
		if s.RouteID == routeID {
			view.Segments = append(view.Segments, s)
			view.NetID = s.NetID
		}
	}
	for _, v := range l.vias {
		if v.RouteID == routeID {
			view.Vias = append(view.Vias, v)
		}
	}
	if len(view.Segments) == 0 && len(view.Vias) == 0 {
		return RouteView{}, false
	}
	sort.Slice(view.Segments, func(i, j int) bool {
		return view.Segments[i].SegmentIndex < view.Segments[j].SegmentIndex
	})
	sort.Slice(view.Vias, func(i, j int) bool {
		return view.Vias[i].SegmentIndex < view.Vias[j].SegmentIndex
	})
	return view, true
}

// Routes lists every route with entries, in first-committed order.
func (l *Log) Routes() []RouteView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	var out []RouteView
	for _, s := range l.segments {
		if seen[s.RouteID] {
			continue
		}
		seen[s.RouteID] = true
		if view, ok := l.routeLocked(s.RouteID); ok {
			out = append(out, view)
		}
	}
	return out
}

// Counts returns the total number of segments and vias in the log.
func (l *Log) Counts() (segments, vias int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments), len(l.vias)
}

// Restore replaces the log contents with previously persisted entries.
func (l *Log) Restore(segments []Segment, vias []Via) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segments = append([]Segment(nil), segments...)
	l.vias = append([]Via(nil), vias...)
	l.selection = make(map[Address]struct{})
}
