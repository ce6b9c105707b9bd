// internal/routing/coordinator.go
package routing

import (
	"context"
	"sync"

	"copperline/internal/geometry"
)

// Coordinator serializes path queries for one logical routing line.
// At most one query is in flight; a target that arrives while a query
// is outstanding replaces any previously recorded pending target, and
// the finished query's result is discarded in its favor. Only the
// latest result is ever delivered.
type Coordinator struct {
	mu      sync.Mutex
	ctx     context.Context
	service Service
	deliver func(req PathRequest, res PathResult)

	inFlight bool
	pending  *PathRequest
	lastReq  *PathRequest
	closed   bool

	// seq numbers accepted requests; pendingSeq is the seq of the
	// recorded pending target. A result is delivered only while its
	// seq is still the newest, so a query that raced a newer Request
	// can never overwrite the newer result.
	seq        uint64
	pendingSeq uint64

	// deliverMu serializes deliveries so two finished queries cannot
	// interleave their callbacks.
	deliverMu sync.Mutex
}

// NewCoordinator creates a coordinator for one line. deliver is called
// with the newest result only; it runs on the query goroutine and must
// do its own locking.
func NewCoordinator(ctx context.Context, service Service, deliver func(PathRequest, PathResult)) *Coordinator {
	return &Coordinator{
		ctx:     ctx,
		service: service,
		deliver: deliver,
	}
}

// Request asks for a path to req.To. Calls coalesce: while a query is
// outstanding only the newest target is remembered. Targets within
// Epsilon of the line start, or of the previously requested target,
// are skipped without issuing a query.
func (c *Coordinator) Request(req PathRequest) {
	if req.From.Same(req.To) {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.lastReq != nil && c.lastReq.Layer == req.Layer && c.lastReq.To.Same(req.To) {
		c.mu.Unlock()
		return
	}
	c.lastReq = &req
	c.seq++

	if c.inFlight {
		c.pending = &req
		c.pendingSeq = c.seq
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	seq := c.seq
	c.mu.Unlock()

	go c.run(req, seq)
}

// run issues queries until no newer target is waiting, then delivers
// the final result. Modeled as an explicit loop so the coalescing
// invariant is auditable and stack depth stays bounded.
func (c *Coordinator) run(req PathRequest, seq uint64) {
	for {
		res, err := c.service.FindPath(c.ctx, req)
		if err != nil {
			// Transport failure behaves like "no path": the preview
			// clears and the session stays alive.
			res = PathResult{OK: false, Reason: err.Error()}
		}

		c.mu.Lock()
		if c.closed {
			// Owner is gone; the result is dropped unconditionally.
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		if c.pending != nil {
			// A newer target superseded this query. Discard and reissue.
			req = *c.pending
			seq = c.pendingSeq
			c.pending = nil
			c.mu.Unlock()
			continue
		}
		c.inFlight = false
		deliver := c.deliver
		c.mu.Unlock()

		// A Request landing between the unlock above and this point
		// starts its own query; re-check under deliverMu that this
		// result is still the newest before surfacing it.
		c.deliverMu.Lock()
		c.mu.Lock()
		stale := c.closed || seq != c.seq
		c.mu.Unlock()
		if !stale {
			deliver(req, res)
		}
		c.deliverMu.Unlock()
		return
	}
}

// Busy reports whether a query is currently outstanding.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Close marks the owning line as gone. It does not abort an in-flight
// network call; the eventual response is dropped on arrival.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	c.lastReq = nil
}

// LastTarget returns the most recently requested target, if any.
func (c *Coordinator) LastTarget() (geometry.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastReq == nil {
		return geometry.Point{}, false
	}
	return c.lastReq.To, true
}
