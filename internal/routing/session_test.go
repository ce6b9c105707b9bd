package routing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"copperline/internal/editlog"
	"copperline/internal/geometry"
	"copperline/internal/netlist"
)

// scriptService answers immediately with configurable results.
type scriptService struct {
	mu       sync.Mutex
	pathReqs []PathRequest
	viaReqs  []ViaRequest
	autoReqs []AutoRouteRequest

	pathFn func(PathRequest) (PathResult, error)
	viaFn  func(ViaRequest) (ViaResult, error)
	autoFn func(AutoRouteRequest) (AutoRouteResult, error)
}

func (s *scriptService) FindPath(_ context.Context, req PathRequest) (PathResult, error) {
	s.mu.Lock()
	s.pathReqs = append(s.pathReqs, req)
	s.mu.Unlock()
	if s.pathFn != nil {
		return s.pathFn(req)
	}
	// Straight-line path by default
	return PathResult{OK: true, Path: []geometry.Point{req.From, req.To}}, nil
}

func (s *scriptService) ValidateVia(_ context.Context, req ViaRequest) (ViaResult, error) {
	s.mu.Lock()
	s.viaReqs = append(s.viaReqs, req)
	s.mu.Unlock()
	if s.viaFn != nil {
		return s.viaFn(req)
	}
	return ViaResult{OK: true}, nil
}

func (s *scriptService) AutoRoute(_ context.Context, req AutoRouteRequest) (AutoRouteResult, error) {
	s.mu.Lock()
	s.autoReqs = append(s.autoReqs, req)
	s.mu.Unlock()
	if s.autoFn != nil {
		return s.autoFn(req)
	}
	return AutoRouteResult{
		OK:       true,
		Segments: []AutoRouteSegment{{Path: []geometry.Point{req.From, req.To}, Layer: req.Layer}},
	}, nil
}

func (s *scriptService) lastPathReq(t *testing.T) PathRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pathReqs) == 0 {
		t.Fatal("no path request was issued")
	}
	return s.pathReqs[len(s.pathReqs)-1]
}

// memPersister records saved routes.
type memPersister struct {
	mu    sync.Mutex
	saved []editlog.RouteView
}

func (p *memPersister) SaveRoute(view editlog.RouteView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, view)
	return nil
}

func (p *memPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

const testBoard = `points:
  - name: P1
    net: net5
    x: 10
    y: 10
  - name: P2
    net: net6
    x: 20
    y: 20
  - name: P3
    net: net5
    x: 30
    y: 10
  - name: T1
    x: 40
    y: 40
`

func testNetlist(t *testing.T) *netlist.Netlist {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(testBoard), 0644); err != nil {
		t.Fatalf("write board file: %v", err)
	}
	nets, err := netlist.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return nets
}

func testDefaults() Defaults {
	return Defaults{Layer: "top", Width: 0.3, ViaSize: 0.6, DrillSize: 0.3}
}

func newTestController(t *testing.T, svc Service) (*Controller, *editlog.Log, *memPersister) {
	t.Helper()
	log := editlog.New()
	persister := &memPersister{}
	c := NewController(context.Background(), svc, log, testNetlist(t), nil, persister, testDefaults())
	return c, log, persister
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestController_StartSession_SnapsToPad(t *testing.T) {
	c, _, _ := newTestController(t, &scriptService{})

	// Pointer lands within tolerance of P1
	state, err := c.StartSession(geometry.NewPoint(10, 10.0004), "")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if state.Mode != ModeSession {
		t.Errorf("Expected session mode, got %s", state.Mode)
	}
	if state.NetID != "net5" {
		t.Errorf("Expected net5 adopted from pad, got %q", state.NetID)
	}
	if state.Start == nil || state.Start.X != 10 || state.Start.Y != 10 {
		t.Errorf("Expected snap to (10,10), got %v", state.Start)
	}
	if state.RouteID == "" {
		t.Error("Expected a route id")
	}
}

func TestController_StartSession_RefusedWhileActive(t *testing.T) {
	c, _, _ := newTestController(t, &scriptService{})

	if _, err := c.StartSession(geometry.NewPoint(10, 10), ""); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := c.StartSession(geometry.NewPoint(20, 20), ""); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
}

func TestController_CommitAndCancel_ExactRollback(t *testing.T) {
	svc := &scriptService{}
	c, log, _ := newTestController(t, svc)

	// Pre-existing committed route that cancel must not touch
	log.AppendSegment("route-old", "net1", "top", 0.3, []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}})

	c.StartSession(geometry.NewPoint(10, 10), "")
	c.UpdateCursor(geometry.NewPoint(13, 13))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	if err := c.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	segs, _ := log.Counts()
	if segs != 2 {
		t.Fatalf("Expected 2 segments after commit, got %d", segs)
	}

	state := c.State()
	if state.Start == nil || state.Start.X != 13 || state.Start.Y != 13 {
		t.Errorf("Start should move to the committed path end, got %v", state.Start)
	}
	if _, ok := c.Preview(); ok {
		t.Error("Preview should clear on commit")
	}

	c.Cancel()

	segs, vias := log.Counts()
	if segs != 1 || vias != 0 {
		t.Errorf("Cancel should leave only the pre-session log, got %d/%d", segs, vias)
	}
	if _, ok := log.Route("route-old"); !ok {
		t.Error("Cancel must not touch other routes")
	}
	if c.State().Mode != ModeIdle {
		t.Errorf("Expected idle after cancel, got %s", c.State().Mode)
	}
}

func TestController_CursorMovementNeverCommits(t *testing.T) {
	c, log, _ := newTestController(t, &scriptService{})

	c.StartSession(geometry.NewPoint(10, 10), "")
	for i := 0; i < 5; i++ {
		c.UpdateCursor(geometry.NewPoint(13, float64(10+i)))
	}
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	if segs, _ := log.Counts(); segs != 0 {
		t.Errorf("Cursor movement alone committed %d segments", segs)
	}
}

func TestController_SwitchLayer_CommitsAndAddsVia(t *testing.T) {
	c, log, _ := newTestController(t, &scriptService{})

	state, _ := c.StartSession(geometry.NewPoint(10, 10), "")
	routeID := state.RouteID

	c.UpdateCursor(geometry.NewPoint(13, 10))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	// Layer switch with an uncommitted preview: the preview commits
	// first so no path data is dropped.
	if err := c.SwitchLayer("bottom"); err != nil {
		t.Fatalf("SwitchLayer failed: %v", err)
	}

	view, ok := log.Route(routeID)
	if !ok {
		t.Fatal("Route missing")
	}
	if len(view.Segments) != 1 || len(view.Vias) != 1 {
		t.Fatalf("Expected 1 segment + 1 via, got %d/%d", len(view.Segments), len(view.Vias))
	}
	if view.Vias[0].SegmentIndex != view.Segments[0].SegmentIndex {
		t.Error("Via must be tagged with the segment it terminates")
	}
	if view.Vias[0].X != 13 || view.Vias[0].Y != 10 {
		t.Errorf("Via should sit at the committed path end, got (%v,%v)", view.Vias[0].X, view.Vias[0].Y)
	}

	state = c.State()
	if state.Layer != "bottom" {
		t.Errorf("Expected layer bottom, got %s", state.Layer)
	}
	if state.Start == nil || state.Start.X != 13 || state.Start.Y != 10 {
		t.Errorf("Start should be the via location, got %v", state.Start)
	}
}

func TestController_SwitchLayer_RejectedViaChangesNothing(t *testing.T) {
	svc := &scriptService{
		viaFn: func(ViaRequest) (ViaResult, error) {
			return ViaResult{OK: false, Reason: "clearance violation"}, nil
		},
	}
	c, log, _ := newTestController(t, svc)

	c.StartSession(geometry.NewPoint(10, 10), "")
	c.UpdateCursor(geometry.NewPoint(13, 10))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	err := c.SwitchLayer("bottom")
	var viaErr *ViaError
	if !errors.As(err, &viaErr) {
		t.Fatalf("Expected ViaError, got %v", err)
	}

	if _, vias := log.Counts(); vias != 0 {
		t.Error("Rejected via must not be recorded")
	}
	if state := c.State(); state.Layer != "top" {
		t.Errorf("Layer must stay unchanged on rejection, got %s", state.Layer)
	}
}

func TestController_CrossNetClickRejected(t *testing.T) {
	c, log, _ := newTestController(t, &scriptService{})

	c.StartSession(geometry.NewPoint(10, 10), "")
	c.UpdateCursor(geometry.NewPoint(13, 13))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	// P2 belongs to net6; the session routes net5.
	if err := c.CommitAt(geometry.NewPoint(20, 20)); !errors.Is(err, ErrCrossNet) {
		t.Fatalf("Expected ErrCrossNet, got %v", err)
	}

	if segs, _ := log.Counts(); segs != 0 {
		t.Error("Rejected click must not commit")
	}
	state := c.State()
	if state.Mode != ModeSession {
		t.Error("Session must stay alive after a cross-net rejection")
	}
	if state.Start.X == 20 && state.Start.Y == 20 {
		t.Error("Start must never snap to a foreign net's point")
	}
}

func TestController_CursorNeverSnapsToForeignNet(t *testing.T) {
	svc := &scriptService{}
	c := NewController(context.Background(), svc, editlog.New(), testNetlist(t), nil, nil, testDefaults())

	c.StartSession(geometry.NewPoint(10, 10), "")

	// Within snap tolerance of P2 (net6): must stay at the raw point.
	c.UpdateCursor(geometry.NewPoint(20, 20.0004))
	waitFor(t, "query", func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.pathReqs) > 0
	})

	req := svc.lastPathReq(t)
	if req.To.X == 20 && req.To.Y == 20 {
		t.Error("Query target snapped onto a foreign net's pad")
	}
}

func TestController_SameNetClickAutoFinalizes(t *testing.T) {
	svc := &scriptService{}
	c, log, persister := newTestController(t, svc)

	state, _ := c.StartSession(geometry.NewPoint(10, 10), "")
	routeID := state.RouteID

	c.UpdateCursor(geometry.NewPoint(13, 10))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	// P3 is on net5, same as the session: one click finishes.
	if err := c.CommitAt(geometry.NewPoint(30, 10)); err != nil {
		t.Fatalf("CommitAt failed: %v", err)
	}

	if c.State().Mode != ModeIdle {
		t.Errorf("Expected idle after auto-finalize, got %s", c.State().Mode)
	}

	view, ok := log.Route(routeID)
	if !ok {
		t.Fatal("Finalized route missing from log")
	}
	// The outstanding preview plus the auto-routed closing stretch
	if len(view.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(view.Segments))
	}
	end := geometry.PathEnd(view.Segments[1].Path)
	if !end.Same(geometry.NewPoint(30, 10)) {
		t.Errorf("Route should end at P3, got %v", end)
	}
	if persister.count() != 1 {
		t.Errorf("Expected 1 persisted route, got %d", persister.count())
	}
}

func TestController_AutoFinalizeFailureKeepsSessionOpen(t *testing.T) {
	svc := &scriptService{
		autoFn: func(AutoRouteRequest) (AutoRouteResult, error) {
			return AutoRouteResult{OK: false, Reason: "obstacle conflict"}, nil
		},
	}
	c, _, _ := newTestController(t, svc)

	c.StartSession(geometry.NewPoint(10, 10), "")
	if err := c.CommitAt(geometry.NewPoint(30, 10)); err != nil {
		t.Fatalf("CommitAt returned %v", err)
	}

	if c.State().Mode != ModeSession {
		t.Error("Session must stay open when auto-routing fails")
	}
}

func TestController_Finish_KeepsCommittedEntries(t *testing.T) {
	c, log, persister := newTestController(t, &scriptService{})

	state, _ := c.StartSession(geometry.NewPoint(10, 10), "")
	c.UpdateCursor(geometry.NewPoint(13, 13))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })
	c.Commit()

	// A second preview that is never committed
	c.UpdateCursor(geometry.NewPoint(15, 15))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	c.Finish()

	if c.State().Mode != ModeIdle {
		t.Error("Expected idle after finish")
	}
	view, ok := log.Route(state.RouteID)
	if !ok || len(view.Segments) != 1 {
		t.Fatalf("Finish must keep committed entries only, got %+v", view)
	}
	if persister.count() != 1 {
		t.Errorf("Expected finished route persisted once, got %d", persister.count())
	}
}

func TestController_RoutingFailureClearsPreview(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	svc := &scriptService{
		pathFn: func(req PathRequest) (PathResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return PathResult{OK: false, Reason: "no path found"}, nil
			}
			return PathResult{OK: true, Path: []geometry.Point{req.From, req.To}}, nil
		},
	}
	c, _, _ := newTestController(t, svc)

	c.StartSession(geometry.NewPoint(10, 10), "")
	c.UpdateCursor(geometry.NewPoint(13, 13))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })

	mu.Lock()
	fail = true
	mu.Unlock()

	c.UpdateCursor(geometry.NewPoint(15, 15))
	waitFor(t, "preview cleared", func() bool { _, ok := c.Preview(); return !ok })

	if c.State().Mode != ModeSession {
		t.Error("A failed query must leave the session alive")
	}
}

func TestController_OperationsWithoutSessionAreNoOps(t *testing.T) {
	c, _, _ := newTestController(t, &scriptService{})

	// Input events can race session teardown; these must not panic or
	// error.
	if err := c.Commit(); err != nil {
		t.Errorf("Commit without session: %v", err)
	}
	if err := c.SwitchLayer("bottom"); err != nil {
		t.Errorf("SwitchLayer without session: %v", err)
	}
	c.UpdateCursor(geometry.NewPoint(1, 1))
	c.Cancel()
	c.Finish()

	if c.State().Mode != ModeIdle {
		t.Error("Controller should remain idle")
	}
}

func sessionEpoch(t *testing.T, c *Controller) uint64 {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		t.Fatal("no active session")
	}
	return c.session.epoch
}

func TestController_SwitchLayerBeforeAnyCommitSkipsVia(t *testing.T) {
	svc := &scriptService{}
	c, log, _ := newTestController(t, svc)

	c.StartSession(geometry.NewPoint(10, 10), "")

	// No committed copper yet: the layer changes without a via.
	if err := c.SwitchLayer("bottom"); err != nil {
		t.Fatalf("SwitchLayer failed: %v", err)
	}

	if state := c.State(); state.Layer != "bottom" {
		t.Errorf("Expected layer bottom, got %s", state.Layer)
	}
	if _, vias := log.Counts(); vias != 0 {
		t.Errorf("Expected no via on an empty route, got %d", vias)
	}
	svc.mu.Lock()
	viaReqs := len(svc.viaReqs)
	svc.mu.Unlock()
	if viaReqs != 0 {
		t.Errorf("Expected no via validation for an empty route, got %d", viaReqs)
	}
}

func TestController_FinishWithoutPersisterCompletes(t *testing.T) {
	log := editlog.New()
	c := NewController(context.Background(), &scriptService{}, log, testNetlist(t), nil, nil, testDefaults())

	state, err := c.StartSession(geometry.NewPoint(10, 10), "")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	c.UpdateCursor(geometry.NewPoint(13, 10))
	waitFor(t, "preview", func() bool { _, ok := c.Preview(); return ok })
	c.Commit()

	// Running without a trace store must finish cleanly, not crash.
	c.Finish()

	if c.State().Mode != ModeIdle {
		t.Errorf("Expected idle after finish, got %s", c.State().Mode)
	}
	if _, ok := log.Route(state.RouteID); !ok {
		t.Error("Committed route must survive finish without a store")
	}
}

func TestController_StaleTargetResultDropped(t *testing.T) {
	svc := newGatedService()
	c := NewController(context.Background(), svc, editlog.New(), nil, nil, nil, testDefaults())

	c.StartSession(geometry.NewPoint(0, 0), "")
	c.UpdateCursor(geometry.NewPoint(10, 0))
	reqA := waitStarted(t, svc)

	// Cursor moves on while the first query is still in flight.
	c.UpdateCursor(geometry.NewPoint(20, 0))

	// The first result arriving now targets a superseded cursor; it
	// must not surface as the preview.
	c.handlePathResult(sessionEpoch(t, c), reqA, lineTo(geometry.NewPoint(10, 0)))

	if path, ok := c.Preview(); ok {
		t.Errorf("Stale-target result surfaced as preview: %v", path)
	}

	// Unblock the coalesced query so its goroutine can drain.
	svc.gate <- lineTo(geometry.NewPoint(20, 0))
	svc.gate <- lineTo(geometry.NewPoint(20, 0))
}

func TestController_StaleResponseAfterCancelDropped(t *testing.T) {
	svc := newGatedService()
	c := NewController(context.Background(), svc, editlog.New(), nil, nil, nil, testDefaults())

	c.StartSession(geometry.NewPoint(0, 0), "")
	c.UpdateCursor(geometry.NewPoint(5, 5))
	waitStarted(t, svc)

	// Session torn down while the query is still in flight
	c.Cancel()
	svc.gate <- lineTo(geometry.NewPoint(5, 5))

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Preview(); ok {
		t.Error("Stale response surfaced after cancel")
	}
	if c.State().Mode != ModeIdle {
		t.Error("Controller should stay idle")
	}
}
