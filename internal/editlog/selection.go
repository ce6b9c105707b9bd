package editlog

import "sort"

// Select replaces the selection with a single entry (plain click).
func (l *Log) Select(addr Address) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.selection = map[Address]struct{}{addr: {}}
}

// ToggleSelect toggles one entry's membership in the multi-selection
// (modified click).
func (l *Log) ToggleSelect(addr Address) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.selection[addr]; ok {
		delete(l.selection, addr)
	} else {
		l.selection[addr] = struct{}{}
	}
}

// SelectRoute selects every entry sharing the routeID (double click).
func (l *Log) SelectRoute(routeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.selection = make(map[Address]struct{})
	for _, s := range l.segments {
		if s.RouteID == routeID {
			l.selection[Address{s.RouteID, s.SegmentIndex}] = struct{}{}
		}
	}
}

// ClearSelection empties the selection.
func (l *Log) ClearSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.selection = make(map[Address]struct{})
}

// DeleteSelected deletes every selected entry and returns the routes
// that were emptied by the deletion. Entries are deleted highest index
// first within each route, so the renumbering done by Delete cannot
// shift an address that is still waiting to be deleted.
func (l *Log) DeleteSelected() (removedRoutes []string) {
	addrs := l.Selection()

	// Highest index first per route
	for i, j := 0, len(addrs)-1; i < j; i, j = i+1, j-1 {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	}

	emptied := make(map[string]bool)
	for _, addr := range addrs {
		remaining, err := l.Delete(addr)
		if err != nil {
			continue
		}
		if !remaining {
			emptied[addr.RouteID] = true
		}
	}

	l.ClearSelection()

	for routeID := range emptied {
		removedRoutes = append(removedRoutes, routeID)
	}
	sort.Strings(removedRoutes)
	return removedRoutes
}

// Selection returns the selected addresses, ordered by route then index.
func (l *Log) Selection() []Address {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Address, 0, len(l.selection))
	for addr := range l.selection {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RouteID != out[j].RouteID {
			return out[i].RouteID < out[j].RouteID
		}
		return out[i].SegmentIndex < out[j].SegmentIndex
	})
	return out
}
