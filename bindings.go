// bindings.go
package main

import (
	"fmt"

	"copperline/internal/editlog"
	"copperline/internal/eventhub"
	"copperline/internal/geometry"
	"copperline/internal/netlist"
	"copperline/internal/routing"
)

// ===== Session Bindings =====

// StartSession begins an interactive routing session at the clicked
// point, snapping to a connection point when one matches.
func (a *App) StartSession(point geometry.Point, netID string) (routing.State, error) {
	return a.controller.StartSession(point, netID)
}

// UpdateCursor feeds the latest cursor position into the active
// session or companion set.
func (a *App) UpdateCursor(point geometry.Point) {
	a.controller.UpdateCursor(point)
}

// Commit moves the current preview into the edit log.
func (a *App) Commit() error {
	return a.controller.Commit()
}

// CommitAt handles a click during an active session: commit, finish on
// a same-net pad, or refuse a foreign-net pad.
func (a *App) CommitAt(point geometry.Point) error {
	return a.controller.CommitAt(point)
}

// SwitchLayer places a via at the current position and continues the
// session on the given layer.
func (a *App) SwitchLayer(layer string) error {
	return a.controller.SwitchLayer(layer)
}

// SetWidth changes the trace width mid-session.
func (a *App) SetWidth(width float64) {
	a.controller.SetWidth(width)
}

// Cancel abandons the active session or companion set.
func (a *App) Cancel() {
	a.controller.Cancel()
}

// Finish ends the session keeping everything already committed.
func (a *App) Finish() {
	a.controller.Finish()
}

// GetSessionState returns the controller's observable snapshot.
func (a *App) GetSessionState() routing.State {
	return a.controller.State()
}

// GetPreview returns the session line's current preview path, for the
// frontend's initial paint after reconnecting.
func (a *App) GetPreview() []geometry.Point {
	path, ok := a.controller.Preview()
	if !ok {
		return nil
	}
	return path
}

// ===== Companion Bindings =====

// StartCompanions enters companion mode against a committed route.
func (a *App) StartCompanions(routeID string) (routing.State, error) {
	return a.controller.StartCompanions(routeID)
}

// AddCompanion adds a companion line for a net, anchored at its pad.
func (a *App) AddCompanion(netID string, pad geometry.Point) error {
	return a.controller.AddCompanion(netID, pad)
}

// CommitCompanions commits every successful companion preview as its
// own route and leaves companion mode.
func (a *App) CommitCompanions() error {
	return a.controller.CommitCompanions()
}

// ===== Selection Bindings =====

// SelectSegment replaces the selection with one entry (plain click).
func (a *App) SelectSegment(addr editlog.Address) {
	a.editLog.Select(addr)
	a.emitSelection()
}

// ToggleSelectSegment toggles one entry in the multi-selection
// (modified click).
func (a *App) ToggleSelectSegment(addr editlog.Address) {
	a.editLog.ToggleSelect(addr)
	a.emitSelection()
}

// SelectRoute selects every entry of a route (double click).
func (a *App) SelectRoute(routeID string) {
	a.editLog.SelectRoute(routeID)
	a.emitSelection()
}

// ClearSelection empties the selection.
func (a *App) ClearSelection() {
	a.editLog.ClearSelection()
	a.emitSelection()
}

// GetSelection returns the selected addresses in stable order.
func (a *App) GetSelection() []editlog.Address {
	return a.editLog.Selection()
}

func (a *App) emitSelection() {
	a.eventHub.EmitSelectionChanged(eventhub.SelectionChangedEvent{
		Selection: a.editLog.Selection(),
	})
}

// ===== Edit Bindings =====

// DeleteSelection deletes every selected entry from the edit log and
// mirrors the change into the trace store.
func (a *App) DeleteSelection() error {
	addrs := a.editLog.Selection()
	if len(addrs) == 0 {
		return nil
	}

	affected := make(map[string]bool)
	for _, addr := range addrs {
		affected[addr.RouteID] = true
	}

	a.editLog.DeleteSelected()
	err := a.syncRoutes(affected)
	a.emitSelection()
	a.eventHub.EmitRoutesChanged()
	return err
}

// DeleteSegment deletes one committed entry.
func (a *App) DeleteSegment(addr editlog.Address) error {
	if _, err := a.editLog.Delete(addr); err != nil {
		return err
	}
	if a.dbManager != nil {
		if err := a.dbManager.DeleteSegment(addr); err != nil {
			// Not stored yet: rewrite the route from the log instead.
			if err := a.syncRoutes(map[string]bool{addr.RouteID: true}); err != nil {
				return err
			}
		}
	}
	a.eventHub.EmitRoutesChanged()
	return nil
}

// DeleteRoute removes a whole committed route.
func (a *App) DeleteRoute(routeID string) error {
	view, ok := a.editLog.Route(routeID)
	if !ok {
		return fmt.Errorf("no route %s", routeID)
	}
	a.editLog.Rollback(view.Segments, view.Vias)

	if a.dbManager != nil {
		if err := a.dbManager.DeleteRoute(routeID); err != nil {
			return err
		}
	}
	a.eventHub.EmitRoutesChanged()
	return nil
}

// syncRoutes re-persists each affected route from the edit log, or
// drops its stored record when the log no longer has it. Renumbering
// already happened in the log; rewriting the route keeps the store's
// indices identical to the log's.
func (a *App) syncRoutes(routeIDs map[string]bool) error {
	if a.dbManager == nil {
		return nil
	}

	var firstErr error
	for routeID := range routeIDs {
		var err error
		if view, ok := a.editLog.Route(routeID); ok {
			err = a.dbManager.SaveRoute(view)
		} else {
			err = a.dbManager.DeleteRoute(routeID)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ===== Board Bindings =====

// ListRoutes returns every committed route.
func (a *App) ListRoutes() []editlog.RouteView {
	return a.editLog.Routes()
}

// GetBoardPoints returns the board's connection points.
func (a *App) GetBoardPoints() []netlist.ConnectionPoint {
	return a.nets.Points()
}

// ReloadBoard re-reads the board file on demand.
func (a *App) ReloadBoard() error {
	if err := a.nets.Reload(); err != nil {
		return err
	}
	a.eventHub.EmitBoardReloaded(a.nets.Len())
	return nil
}

// ===== Snapshot Bindings =====

// ExportSnapshot writes a compressed snapshot of every committed route
// and returns its path.
func (a *App) ExportSnapshot() (string, error) {
	return a.snapshots.Export(a.editLog.Routes())
}

// ImportSnapshot loads routes from a snapshot file into the store,
// replacing stored routes with the same id, then rebuilds the edit log
// from the store.
func (a *App) ImportSnapshot(path string) error {
	routes, err := a.snapshots.Import(path)
	if err != nil {
		return err
	}

	if a.dbManager != nil {
		for _, view := range routes {
			if err := a.dbManager.SaveRoute(view); err != nil {
				return err
			}
		}
		segments, vias, err := a.dbManager.LoadAll()
		if err != nil {
			return err
		}
		a.editLog.Restore(segments, vias)
	} else {
		var segments []editlog.Segment
		var vias []editlog.Via
		for _, view := range routes {
			segments = append(segments, view.Segments...)
			vias = append(vias, view.Vias...)
		}
		a.editLog.Restore(segments, vias)
	}

	a.eventHub.EmitRoutesChanged()
	return nil
}

// ListSnapshots returns the stored snapshot files, newest first.
func (a *App) ListSnapshots() ([]string, error) {
	return a.snapshots.List()
}
