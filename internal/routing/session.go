// internal/routing/session.go
package routing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"copperline/internal/editlog"
	"copperline/internal/geometry"
	"copperline/internal/netlist"
)

// Mode is the controller's top-level state.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeSession   Mode = "session"
	ModeCompanion Mode = "companion"
)

// LineSession is the event line id for the single-route session; a
// companion line uses "companion:" + its net id.
const LineSession = "session"

// Defaults are the routing parameters a new session starts with.
type Defaults struct {
	Layer     string
	Width     float64
	ViaSize   float64
	DrillSize float64
}

// Events receives state transitions. UI feedback is driven purely off
// these; the controller never talks to the UI directly.
type Events interface {
	SessionChanged(state State)
	PreviewChanged(line string, path []geometry.Point, ok bool, reason string)
	SegmentCommitted(seg editlog.Segment)
	ViaAdded(via editlog.Via)
	RoutingError(msg string)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) SessionChanged(State)                                  {}
func (NopEvents) PreviewChanged(string, []geometry.Point, bool, string) {}
func (NopEvents) SegmentCommitted(editlog.Segment)                      {}
func (NopEvents) ViaAdded(editlog.Via)                                  {}
func (NopEvents) RoutingError(string)                                   {}

// Persister stores a finished route durably. Defined here so the
// controller does not depend on the database package.
type Persister interface {
	SaveRoute(view editlog.RouteView) error
}

// State is the observable controller snapshot emitted on transitions.
type State struct {
	Mode       Mode             `json:"mode"`
	RouteID    string           `json:"route_id,omitempty"`
	NetID      string           `json:"net_id,omitempty"`
	Layer      string           `json:"layer,omitempty"`
	Width      float64          `json:"width,omitempty"`
	Start      *geometry.Point  `json:"start,omitempty"`
	Cursor     *geometry.Point  `json:"cursor,omitempty"`
	Companions []CompanionState `json:"companions,omitempty"`
}

// session is the active single-route editing context. sessionSegments
// and sessionVias are the undo boundary: cancel removes exactly these
// from the edit log.
type session struct {
	routeID string
	netID   string
	start   geometry.Point
	cursor  geometry.Point
	pending []geometry.Point
	layer   string
	width   float64

	segments []editlog.Segment
	vias     []editlog.Via

	coord *Coordinator
	epoch uint64
}

// Controller owns the session lifecycle. It is the explicit context
// object holding what would otherwise be shared module state; the
// coordinator and companion set are injected with it, never read from
// ambient scope.
type Controller struct {
	mu sync.Mutex

	ctx       context.Context
	service   Service
	log       *editlog.Log
	nets      *netlist.Netlist
	events    Events
	persister Persister
	defaults  Defaults

	mode       Mode
	session    *session
	companions *companionSet

	// epoch increments on every session/companion start so responses
	// from a torn-down context can be recognized and dropped.
	epoch uint64
}

// NewController creates an idle controller. nets and persister may be
// nil; events may be nil for headless use.
func NewController(ctx context.Context, service Service, log *editlog.Log, nets *netlist.Netlist, events Events, persister Persister, defaults Defaults) *Controller {
	if events == nil {
		events = NopEvents{}
	}
	return &Controller{
		ctx:       ctx,
		service:   service,
		log:       log,
		nets:      nets,
		events:    events,
		persister: persister,
		defaults:  defaults,
		mode:      ModeIdle,
	}
}

// lookupAt consults the netlist, if one is configured.
func (c *Controller) lookupAt(p geometry.Point) (netlist.ConnectionPoint, bool) {
	if c.nets == nil {
		return netlist.ConnectionPoint{}, false
	}
	return c.nets.At(p)
}

// StartSession begins a single-route session at point. If the point
// matches a connection point the session snaps to it and adopts its
// net; netID may be empty for an unconnected start.
func (c *Controller) StartSession(point geometry.Point, netID string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIdle {
		return c.stateLocked(), ErrBusy
	}

	if cp, ok := c.lookupAt(point); ok {
		if netID != "" && cp.NetID != "" && cp.NetID != netID {
			return c.stateLocked(), ErrCrossNet
		}
		point = cp.Position()
		if netID == "" {
			netID = cp.NetID
		}
	}

	c.epoch++
	epoch := c.epoch

	s := &session{
		routeID: uuid.New().String(),
		netID:   netID,
		start:   point,
		cursor:  point,
		layer:   c.defaults.Layer,
		width:   c.defaults.Width,
		epoch:   epoch,
	}
	s.coord = NewCoordinator(c.ctx, c.service, func(req PathRequest, res PathResult) {
		c.handlePathResult(epoch, req, res)
	})

	c.session = s
	c.mode = ModeSession
	c.events.SessionChanged(c.stateLocked())
	return c.stateLocked(), nil
}

// handlePathResult applies a coordinator result to the preview. It
// runs on the query goroutine; everything it touches is revalidated
// under the lock, so a response that outlived its session (or its
// start point) is dropped here.
func (c *Controller) handlePathResult(epoch uint64, req PathRequest, res PathResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if c.mode != ModeSession || s == nil || s.epoch != epoch {
		return
	}
	if !req.From.Same(s.start) {
		// The start moved (commit or via) while this query was out.
		return
	}
	if !req.To.Same(s.cursor) {
		// The cursor moved on; a query for the newer target is on its
		// way and this result must not overwrite it.
		return
	}

	if res.OK && len(res.Path) >= 2 {
		s.pending = geometry.ClonePath(res.Path)
		c.events.PreviewChanged(LineSession, s.pending, true, "")
		return
	}

	s.pending = nil
	c.events.PreviewChanged(LineSession, nil, false, res.Reason)
	if res.Reason != "" {
		c.events.RoutingError(res.Reason)
	}
}

// UpdateCursor records the desired target and feeds the coordinator
// (or every companion). Cursor movement alone never commits anything.
func (c *Controller) UpdateCursor(point geometry.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeSession:
		s := c.session
		target := point
		if cp, ok := c.lookupAt(point); ok {
			// Snapping is allowed only onto same-net or unconnected
			// points; a foreign net's pad is never a snap target.
			if cp.NetID == "" || s.netID == "" || cp.NetID == s.netID {
				target = cp.Position()
			}
		}
		s.cursor = target
		s.coord.Request(PathRequest{
			From:  s.start,
			To:    target,
			Layer: s.layer,
			Width: s.width,
			NetID: s.netID,
		})

	case ModeCompanion:
		c.updateCompanionCursorLocked(point)
	}
}

// Commit moves the current preview into the edit log. A no-op without
// an active session or a preview.
func (c *Controller) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeSession || c.session == nil {
		return nil
	}
	return c.commitLocked()
}

func (c *Controller) commitLocked() error {
	s := c.session
	if len(s.pending) < 2 {
		return nil
	}

	seg, err := c.log.AppendSegment(s.routeID, s.netID, s.layer, s.width, s.pending)
	if err != nil {
		return err
	}
	s.segments = append(s.segments, seg)
	s.start = geometry.PathEnd(s.pending)
	s.pending = nil

	c.events.SegmentCommitted(seg)
	c.events.PreviewChanged(LineSession, nil, false, "")
	return nil
}

// CommitAt handles a click at point during an active session. A click
// on a same-net connection point finishes the route there; a click on
// a foreign net's point is refused with ErrCrossNet and changes
// nothing; anywhere else it commits the preview.
func (c *Controller) CommitAt(point geometry.Point) error {
	c.mu.Lock()

	if c.mode != ModeSession || c.session == nil {
		c.mu.Unlock()
		return nil
	}

	if cp, ok := c.lookupAt(point); ok && cp.NetID != "" && c.session.netID != "" {
		if cp.NetID != c.session.netID {
			c.mu.Unlock()
			return ErrCrossNet
		}
		// Same-net endpoint: unlocks internally.
		return c.finishAtPoint(cp)
	}

	defer c.mu.Unlock()
	return c.commitLocked()
}

// SwitchLayer commits any outstanding preview, validates the via
// placement with the routing service, then records the via and
// switches the session to layer. A rejected via leaves the current
// layer and position unchanged.
func (c *Controller) SwitchLayer(layer string) error {
	c.mu.Lock()

	if c.mode != ModeSession || c.session == nil {
		c.mu.Unlock()
		return nil
	}
	s := c.session
	if layer == s.layer {
		c.mu.Unlock()
		return nil
	}

	// Never drop path data on a layer switch.
	if err := c.commitLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	if len(s.segments) == 0 {
		// Nothing committed on this route yet, so there is no copper
		// for a via to connect; just change the working layer.
		s.layer = layer
		c.events.SessionChanged(c.stateLocked())
		c.mu.Unlock()
		return nil
	}

	at := s.start
	epoch := s.epoch
	req := ViaRequest{
		At:        at,
		PadSize:   c.defaults.ViaSize,
		DrillSize: c.defaults.DrillSize,
		NetID:     s.netID,
	}
	c.mu.Unlock()

	// Validation suspends only this operation; cursor handling for
	// other lines keeps running.
	res, err := c.service.ValidateVia(c.ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()

	s = c.session
	if c.mode != ModeSession || s == nil || s.epoch != epoch || !s.start.Same(at) {
		// Session ended or moved on while validating; drop silently.
		return nil
	}
	if err != nil {
		return &ViaError{Reason: err.Error()}
	}
	if !res.OK {
		return &ViaError{Reason: res.Reason}
	}

	via := c.log.AppendVia(s.routeID, s.netID, at, c.defaults.ViaSize)
	s.vias = append(s.vias, via)
	s.layer = layer

	c.events.ViaAdded(via)
	c.events.SessionChanged(c.stateLocked())
	return nil
}

// SetWidth changes the trace width mid-session.
func (c *Controller) SetWidth(width float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeSession || c.session == nil || width <= 0 {
		return
	}
	c.session.width = width
	c.events.SessionChanged(c.stateLocked())
}

// Cancel discards the active session, rolling the edit log back by
// the exact set of entries this session added. In companion mode it
// drops all companion previews without touching the reference route.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeSession:
		s := c.session
		s.coord.Close()
		c.log.Rollback(s.segments, s.vias)
		c.session = nil
		c.mode = ModeIdle
		c.events.PreviewChanged(LineSession, nil, false, "")
		c.events.SessionChanged(c.stateLocked())

	case ModeCompanion:
		c.cancelCompanionsLocked()
	}
}

// Finish ends the session keeping everything already committed; only
// the transient preview is discarded.
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeSession || c.session == nil {
		return
	}
	c.finalizeLocked()
}

// finishAtPoint auto-finalizes the route onto a same-net connection
// point: the outstanding preview is committed, the closing stretch is
// auto-routed pad to pad, and the session finishes. Called with the
// lock held; unlocks around the network call.
func (c *Controller) finishAtPoint(cp netlist.ConnectionPoint) error {
	s := c.session

	if err := c.commitLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	target := cp.Position()
	if s.start.Same(target) {
		c.finalizeLocked()
		c.mu.Unlock()
		return nil
	}

	epoch := s.epoch
	from := s.start
	req := AutoRouteRequest{
		From:    from,
		To:      target,
		Layer:   s.layer,
		Width:   s.width,
		NetID:   s.netID,
		ViaSize: c.defaults.ViaSize,
	}
	c.mu.Unlock()

	res, err := c.service.AutoRoute(c.ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()

	s = c.session
	if c.mode != ModeSession || s == nil || s.epoch != epoch || !s.start.Same(from) {
		return nil
	}
	if err != nil || !res.OK {
		reason := res.Reason
		if err != nil {
			reason = err.Error()
		}
		// Recoverable: the session stays open at its current point.
		c.events.RoutingError(reason)
		return nil
	}

	for i, part := range res.Segments {
		seg, err := c.log.AppendSegment(s.routeID, s.netID, part.Layer, s.width, part.Path)
		if err != nil {
			continue
		}
		s.segments = append(s.segments, seg)
		s.layer = part.Layer
		c.events.SegmentCommitted(seg)
		if i < len(res.Vias) {
			via := c.log.AppendVia(s.routeID, s.netID, res.Vias[i], c.defaults.ViaSize)
			s.vias = append(s.vias, via)
			c.events.ViaAdded(via)
		}
	}

	c.finalizeLocked()
	return nil
}

// finalizeLocked ends the session, persisting the finished route.
func (c *Controller) finalizeLocked() {
	s := c.session
	s.coord.Close()

	if c.persister != nil {
		if view, ok := c.log.Route(s.routeID); ok {
			if err := c.persister.SaveRoute(view); err != nil {
				c.events.RoutingError("failed to store route: " + err.Error())
			}
		}
	}

	c.session = nil
	c.mode = ModeIdle
	c.events.PreviewChanged(LineSession, nil, false, "")
	c.events.SessionChanged(c.stateLocked())
}

// State returns the current observable snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	state := State{Mode: c.mode}

	if s := c.session; s != nil {
		start, cursor := s.start, s.cursor
		state.RouteID = s.routeID
		state.NetID = s.netID
		state.Layer = s.layer
		state.Width = s.width
		state.Start = &start
		state.Cursor = &cursor
	}
	if c.companions != nil {
		state.Companions = c.companions.statesLocked()
	}
	return state
}

// Preview returns the current preview path for the session line, if
// any. Exposed for the UI's initial paint after reconnecting.
func (c *Controller) Preview() ([]geometry.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || len(c.session.pending) == 0 {
		return nil, false
	}
	return geometry.ClonePath(c.session.pending), true
}
