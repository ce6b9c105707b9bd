// internal/routing/companion.go
package routing

import (
	"fmt"

	"github.com/google/uuid"

	"copperline/internal/geometry"
)

// CompanionState is the observable state of one companion line. Every
// companion's preview and success flag is independently visible.
type CompanionState struct {
	NetID      string         `json:"net_id"`
	Offset     geometry.Point `json:"offset"`
	Start      geometry.Point `json:"start"`
	OK         bool           `json:"ok"`
	Reason     string         `json:"reason,omitempty"`
	HasPreview bool           `json:"has_preview"`
}

// companionLine is one derived routing line. Its offset is captured
// when the companion is added and held fixed for the session.
type companionLine struct {
	netID   string
	offset  geometry.Point
	start   geometry.Point
	pending []geometry.Point
	ok      bool
	reason  string
	coord   *Coordinator
}

// companionSet is the parallel-routing context: one reference route
// plus the companion lines mirroring it from a shared cursor.
type companionSet struct {
	referenceID string
	refNet      string
	refStart    geometry.Point
	layer       string
	width       float64

	cursor    geometry.Point
	hasCursor bool
	lines     []*companionLine
	epoch     uint64
}

func (cs *companionSet) line(netID string) *companionLine {
	for _, l := range cs.lines {
		if l.netID == netID {
			return l
		}
	}
	return nil
}

func (cs *companionSet) statesLocked() []CompanionState {
	out := make([]CompanionState, 0, len(cs.lines))
	for _, l := range cs.lines {
		out = append(out, CompanionState{
			NetID:      l.netID,
			Offset:     l.offset,
			Start:      l.start,
			OK:         l.ok,
			Reason:     l.reason,
			HasPreview: len(l.pending) > 0,
		})
	}
	return out
}

func companionLineID(netID string) string {
	return "companion:" + netID
}

// StartCompanions enters companion mode against a previously committed
// route. The reference route's first segment supplies the geometry the
// companions mirror; its entries are never modified by this mode.
func (c *Controller) StartCompanions(routeID string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIdle {
		return c.stateLocked(), ErrBusy
	}

	view, ok := c.log.Route(routeID)
	if !ok || len(view.Segments) == 0 {
		return c.stateLocked(), ErrNoReference
	}

	first := view.Segments[0]
	c.epoch++
	c.companions = &companionSet{
		referenceID: routeID,
		refNet:      view.NetID,
		refStart:    geometry.PathStart(first.Path),
		layer:       first.Layer,
		width:       first.Width,
		epoch:       c.epoch,
	}
	c.mode = ModeCompanion
	c.events.SessionChanged(c.stateLocked())
	return c.stateLocked(), nil
}

// AddCompanion adds a companion line for netID starting at the given
// pad. The offset from the reference route's start to the pad is
// computed once and held fixed; later cursor movement derives every
// companion target as cursor + offset.
func (c *Controller) AddCompanion(netID string, pad geometry.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.companions
	if c.mode != ModeCompanion || cs == nil {
		return ErrNoReference
	}
	if netID == "" {
		return fmt.Errorf("companion needs a net")
	}
	if netID == cs.refNet || cs.line(netID) != nil {
		return ErrDuplicateCompanion
	}

	if cp, ok := c.lookupAt(pad); ok {
		if cp.NetID != "" && cp.NetID != netID {
			return ErrCrossNet
		}
		pad = cp.Position()
	}

	epoch := cs.epoch
	line := &companionLine{
		netID:  netID,
		offset: geometry.Offset(cs.refStart, pad),
		start:  pad,
	}
	line.coord = NewCoordinator(c.ctx, c.service, func(req PathRequest, res PathResult) {
		c.handleCompanionResult(epoch, netID, req, res)
	})
	cs.lines = append(cs.lines, line)

	// Catch up with the shared cursor if it already moved.
	if cs.hasCursor {
		line.coord.Request(PathRequest{
			From:  line.start,
			To:    cs.cursor.Add(line.offset),
			Layer: cs.layer,
			Width: cs.width,
			NetID: line.netID,
		})
	}

	c.events.SessionChanged(c.stateLocked())
	return nil
}

// updateCompanionCursorLocked drives every companion from the shared
// cursor. Lines are independent; one companion's failure or latency
// never holds back the others.
func (c *Controller) updateCompanionCursorLocked(point geometry.Point) {
	cs := c.companions
	cs.cursor = point
	cs.hasCursor = true

	for _, line := range cs.lines {
		line.coord.Request(PathRequest{
			From:  line.start,
			To:    point.Add(line.offset),
			Layer: cs.layer,
			Width: cs.width,
			NetID: line.netID,
		})
	}
}

// handleCompanionResult applies one companion's query result. Runs on
// the query goroutine; dropped if the companion session is gone.
func (c *Controller) handleCompanionResult(epoch uint64, netID string, req PathRequest, res PathResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.companions
	if c.mode != ModeCompanion || cs == nil || cs.epoch != epoch {
		return
	}
	line := cs.line(netID)
	if line == nil || !req.From.Same(line.start) {
		return
	}
	if !cs.hasCursor || !req.To.Same(cs.cursor.Add(line.offset)) {
		// The shared cursor moved on; this line's newer query will
		// deliver its own result.
		return
	}

	if res.OK && len(res.Path) >= 2 {
		line.pending = geometry.ClonePath(res.Path)
		line.ok = true
		line.reason = ""
		c.events.PreviewChanged(companionLineID(netID), line.pending, true, "")
		return
	}

	line.pending = nil
	line.ok = false
	line.reason = res.Reason
	c.events.PreviewChanged(companionLineID(netID), nil, false, res.Reason)
}

// CommitCompanions commits every companion whose preview succeeded as
// its own route and ends the companion session. Companions without a
// preview are skipped, not treated as errors.
func (c *Controller) CommitCompanions() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.companions
	if c.mode != ModeCompanion || cs == nil {
		return nil
	}

	for _, line := range cs.lines {
		if !line.ok || len(line.pending) < 2 {
			continue
		}
		routeID := uuid.New().String()
		seg, err := c.log.AppendSegment(routeID, line.netID, cs.layer, cs.width, line.pending)
		if err != nil {
			c.events.RoutingError(err.Error())
			continue
		}
		c.events.SegmentCommitted(seg)

		if c.persister != nil {
			if view, ok := c.log.Route(routeID); ok {
				if err := c.persister.SaveRoute(view); err != nil {
					c.events.RoutingError("failed to store route: " + err.Error())
				}
			}
		}
	}

	c.cancelCompanionsLocked()
	return nil
}

// cancelCompanionsLocked drops all companion previews and leaves
// companion mode. The committed reference route is untouched.
func (c *Controller) cancelCompanionsLocked() {
	cs := c.companions
	if cs == nil {
		return
	}
	for _, line := range cs.lines {
		line.coord.Close()
		c.events.PreviewChanged(companionLineID(line.netID), nil, false, "")
	}
	c.companions = nil
	c.mode = ModeIdle
	c.events.SessionChanged(c.stateLocked())
}
