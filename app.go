// app.go
package main

import (
	"context"
	"log"
	"sync"
	"time"

	"copperline/internal/config"
	"copperline/internal/database"
	"copperline/internal/editlog"
	"copperline/internal/eventhub"
	"copperline/internal/geometry"
	"copperline/internal/netlist"
	"copperline/internal/routing"
	"copperline/internal/snapshot"
)

// App struct contains the core application state and managers
type App struct {
	ctx    context.Context
	mu     sync.RWMutex
	config *config.Config

	// Core managers
	dbManager  *database.Database
	editLog    *editlog.Log
	nets       *netlist.Netlist
	netWatcher *netlist.Watcher
	controller *routing.Controller
	snapshots  *snapshot.Storage
	eventHub   *eventhub.EventHub
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// Startup initializes every manager. Called once before the RPC server
// starts accepting connections.
func (a *App) Startup(ctx context.Context) {
	a.startupCommon(ctx)
}

// startupCommon contains the common startup logic
func (a *App) startupCommon(ctx context.Context) {
	a.ctx = ctx

	// Load config; a failure degrades to in-memory defaults so the
	// controller always comes up.
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config, using defaults: %v", err)
		cfg = config.Default()
	}
	a.config = cfg

	// Initialize EventHub (before managers that need it)
	a.eventHub = eventhub.New(ctx)

	// Initialize edit log
	a.editLog = editlog.New()

	// Initialize database and restore stored routes
	if cfg.DatabasePath != "" {
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			log.Printf("Failed to open database: %v", err)
		} else {
			a.dbManager = db

			segments, vias, err := db.LoadAll()
			if err != nil {
				log.Printf("Failed to restore routes: %v", err)
			} else if len(segments) > 0 || len(vias) > 0 {
				a.editLog.Restore(segments, vias)
				log.Printf("Restored %d segments, %d vias", len(segments), len(vias))
			}
		}
	}

	// Initialize snapshot storage
	a.snapshots = snapshot.NewStorage(cfg.SnapshotDir, 3)

	// Load board netlist and watch it for external edits
	nets, err := netlist.Load(cfg.Settings.BoardFile)
	if err != nil {
		log.Printf("Failed to load board file: %v", err)
		nets, _ = netlist.Load("")
	}
	a.nets = nets

	if cfg.Settings.BoardFile != "" {
		w, err := netlist.Watch(nets, 200*time.Millisecond, func() {
			a.eventHub.EmitBoardReloaded(nets.Len())
		})
		if err != nil {
			log.Printf("Failed to watch board file: %v", err)
		} else {
			a.netWatcher = w
		}
	}

	// Initialize routing controller against the external routing service
	service := routing.NewHTTPClient(cfg.Settings.RoutingServiceURL)
	a.controller = routing.NewController(ctx, service, a.editLog, a.nets,
		&hubEvents{hub: a.eventHub}, routePersister(a.dbManager), routing.Defaults{
			Layer:     cfg.Settings.DefaultLayer,
			Width:     cfg.Settings.DefaultWidth,
			ViaSize:   cfg.Settings.ViaSize,
			DrillSize: cfg.Settings.DrillSize,
		})

	log.Println("copperline started successfully")
}

// Shutdown releases resources. Called after the RPC server stopped.
func (a *App) Shutdown(ctx context.Context) {
	a.shutdownCommon(ctx)
}

// shutdownCommon contains the common shutdown logic
func (a *App) shutdownCommon(ctx context.Context) {
	// Abandon any active session; nothing uncommitted survives restart
	if a.controller != nil {
		a.controller.Cancel()
	}

	if a.netWatcher != nil {
		a.netWatcher.Close()
	}

	if a.dbManager != nil {
		a.dbManager.Close()
	}

	log.Println("copperline shutdown complete")
}

// SetEventHubBroadcaster 设置 EventHub 的广播器（用于 WebSocket 模式）
func (a *App) SetEventHubBroadcaster(broadcaster eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(broadcaster)
	}
}

// routePersister turns a possibly-nil database into the controller's
// persister. A typed-nil *database.Database must not reach the
// interface, or the controller's nil check would pass and SaveRoute
// would crash in the degraded no-database mode.
func routePersister(db *database.Database) routing.Persister {
	if db == nil {
		return nil
	}
	return db
}

// hubEvents adapts controller transitions to EventHub broadcasts
type hubEvents struct {
	hub *eventhub.EventHub
}

func (e *hubEvents) SessionChanged(state routing.State) {
	e.hub.EmitSessionChanged(eventhub.SessionChangedEvent{
		Mode:    string(state.Mode),
		RouteID: state.RouteID,
		NetID:   state.NetID,
		Layer:   state.Layer,
	})
}

func (e *hubEvents) PreviewChanged(line string, path []geometry.Point, ok bool, reason string) {
	event := eventhub.PreviewChangedEvent{LineID: line, OK: ok, Reason: reason}
	if len(path) > 0 {
		event.Path = path
	}
	e.hub.EmitPreviewChanged(event)
}

func (e *hubEvents) SegmentCommitted(seg editlog.Segment) {
	e.hub.EmitSegmentCommitted(seg.RouteID, seg.SegmentIndex)
}

func (e *hubEvents) ViaAdded(via editlog.Via) {
	e.hub.EmitViaAdded(via.RouteID, via.SegmentIndex, via.X, via.Y)
}

func (e *hubEvents) RoutingError(msg string) {
	e.hub.EmitRoutingError("", msg)
}
