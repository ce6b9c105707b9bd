// internal/database/db_test.go
package database

import (
	"os"
	"path/filepath"
	"testing"

	"copperline/internal/editlog"
	"copperline/internal/geometry"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("Database file was not created")
	}
	return db
}

func sampleRoute(routeID string) editlog.RouteView {
	return editlog.RouteView{
		RouteID: routeID,
		NetID:   "net5",
		Segments: []editlog.Segment{
			{
				RouteID: routeID, SegmentIndex: 0, NetID: "net5", Layer: "top", Width: 0.3,
				Path: []geometry.Point{{X: 10, Y: 10}, {X: 13, Y: 10}},
			},
			{
				RouteID: routeID, SegmentIndex: 1, NetID: "net5", Layer: "bottom", Width: 0.3,
				Path: []geometry.Point{{X: 13, Y: 10}, {X: 15, Y: 12}},
			},
		},
		Vias: []editlog.Via{
			{RouteID: routeID, SegmentIndex: 0, NetID: "net5", X: 13, Y: 10, Size: 0.6},
		},
	}
}

func TestDatabase_SaveAndListRoutes(t *testing.T) {
	db := openTestDB(t)

	if err := db.SaveRoute(sampleRoute("route-1")); err != nil {
		t.Fatalf("SaveRoute failed: %v", err)
	}

	routes, err := db.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("Expected 1 route, got %d", len(routes))
	}

	route := routes[0]
	if route.RouteID != "route-1" || route.NetID != "net5" {
		t.Errorf("Wrong route metadata: %+v", route)
	}
	if len(route.Segments) != 2 || len(route.Vias) != 1 {
		t.Fatalf("Expected 2 segments + 1 via, got %d/%d", len(route.Segments), len(route.Vias))
	}
	if route.Segments[1].Path[1].X != 15 || route.Segments[1].Path[1].Y != 12 {
		t.Errorf("Path did not roundtrip: %+v", route.Segments[1].Path)
	}
}

func TestDatabase_SaveRouteIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.SaveRoute(sampleRoute("route-1")); err != nil {
		t.Fatalf("SaveRoute failed: %v", err)
	}
	if err := db.SaveRoute(sampleRoute("route-1")); err != nil {
		t.Fatalf("Second SaveRoute failed: %v", err)
	}

	routes, err := db.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(routes) != 1 || len(routes[0].Segments) != 2 {
		t.Errorf("Re-save must replace, not duplicate: %+v", routes)
	}
}

func TestDatabase_LoadAllRestoresLog(t *testing.T) {
	db := openTestDB(t)

	db.SaveRoute(sampleRoute("route-1"))
	db.SaveRoute(sampleRoute("route-2"))

	segments, vias, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	log := editlog.New()
	log.Restore(segments, vias)

	segs, viaCount := log.Counts()
	if segs != 4 || viaCount != 2 {
		t.Errorf("Expected 4 segments + 2 vias restored, got %d/%d", segs, viaCount)
	}

	if segments[0].NetID != "net5" {
		t.Errorf("Net id should be restored from the routes table, got %q", segments[0].NetID)
	}
}

func TestDatabase_DeleteRoute(t *testing.T) {
	db := openTestDB(t)

	db.SaveRoute(sampleRoute("route-1"))
	db.SaveRoute(sampleRoute("route-2"))

	if err := db.DeleteRoute("route-1"); err != nil {
		t.Fatalf("DeleteRoute failed: %v", err)
	}

	routes, err := db.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(routes) != 1 || routes[0].RouteID != "route-2" {
		t.Errorf("Expected only route-2 left, got %+v", routes)
	}
}

func TestDatabase_DeleteSegment_Renumbers(t *testing.T) {
	db := openTestDB(t)

	db.SaveRoute(sampleRoute("route-1"))

	// Deleting index 0 removes its via and renumbers index 1 -> 0
	if err := db.DeleteSegment(editlog.Address{RouteID: "route-1", SegmentIndex: 0}); err != nil {
		t.Fatalf("DeleteSegment failed: %v", err)
	}

	routes, err := db.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("Expected route-1 still listed, got %d routes", len(routes))
	}
	route := routes[0]
	if len(route.Segments) != 1 || route.Segments[0].SegmentIndex != 0 {
		t.Errorf("Expected the surviving segment at index 0, got %+v", route.Segments)
	}
	if len(route.Vias) != 0 {
		t.Errorf("Via sharing the deleted index should be gone, got %+v", route.Vias)
	}

	// Removing the last segment drops the route entirely
	if err := db.DeleteSegment(editlog.Address{RouteID: "route-1", SegmentIndex: 0}); err != nil {
		t.Fatalf("DeleteSegment failed: %v", err)
	}
	routes, _ = db.ListRoutes()
	if len(routes) != 0 {
		t.Errorf("Expected no routes left, got %+v", routes)
	}
}

func TestDatabase_DeleteSegment_Unknown(t *testing.T) {
	db := openTestDB(t)

	if err := db.DeleteSegment(editlog.Address{RouteID: "missing", SegmentIndex: 0}); err == nil {
		t.Error("Expected error for unknown stored segment")
	}
}
