package routing

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Entry is one route of a table at its order.
type Entry struct {
	Order int
	Route Route
}

// RoutingTable holds routes sorted by descending order. Lookups read an
// immutable snapshot; every mutation swaps in a new slice.
type RoutingTable struct {
	routeType RouteTypes
	picker    Picker

	mu      sync.RWMutex
	entries []Entry
}

// NewMORoutingTable builds the table routing deliver_sm to http and smpps connectors.
func NewMORoutingTable(picker Picker) *RoutingTable {
	return newRoutingTable(MO, picker)
}

// NewMTRoutingTable builds the table routing submit_sm to smppc connectors.
func NewMTRoutingTable(picker Picker) *RoutingTable {
	return newRoutingTable(MT, picker)
}

func newRoutingTable(t RouteTypes, picker Picker) *RoutingTable {
	if picker == nil {
		picker = RandomPicker{}
	}
	return &RoutingTable{routeType: t, picker: picker}
}

func (t *RoutingTable) Type() RouteTypes { return t.routeType }

func (t *RoutingTable) validConnectorType(c Connector) bool {
	switch c.Type() {
	case ConnectorHTTP, ConnectorSmppServer:
		return t.routeType == MO
	case ConnectorSmppClient:
		return t.routeType == MT
	}
	return false
}

// Add inserts route at order, replacing any route already there, and returns
// the order the route was stored at. A DefaultRoute is always stored at 0.
func (t *RoutingTable) Add(route Route, order int) (int, error) {
	if route == nil {
		return 0, fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	if order < 0 {
		return 0, ErrInvalidOrder
	}
	for _, c := range route.Connectors() {
		if !t.validConnectorType(c) {
			return 0, fmt.Errorf("%w: connector '%s' type '%s' is not valid for %s route",
				ErrInvalidConnectorType, c.ID(), c.Type(), t.routeType)
		}
	}

	_, isDefault := route.(*DefaultRoute)
	switch {
	case isDefault && order != 0:
		slog.Warn("DefaultRoute order forced to 0", slog.Int("requested_order", order), slog.String("table", t.routeType.String()))
		order = 0
	case !isDefault && order == 0:
		return 0, fmt.Errorf("%w: route with order=0 must be a DefaultRoute", ErrInvalidRoute)
	case !isDefault && route.Type() != t.routeType:
		return 0, fmt.Errorf("%w: route must be of type '%s', '%s' was given", ErrInvalidRoute, t.routeType, route.Type())
	}
	if !isDefault {
		for _, f := range route.Filters() {
			if err := CheckCompatible(f, t.routeType); err != nil {
				return 0, err
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]Entry, 0, len(t.entries)+1)
	for _, e := range t.entries {
		if e.Order != order {
			next = append(next, e)
		}
	}
	next = append(next, Entry{Order: order, Route: route})
	slices.SortFunc(next, func(a, b Entry) int { return b.Order - a.Order })
	t.entries = next
	return order, nil
}

// Remove deletes the route at order.
func (t *RoutingTable) Remove(order int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := slices.IndexFunc(t.entries, func(e Entry) bool { return e.Order == order })
	if idx < 0 {
		return fmt.Errorf("%w: order %d", ErrRouteNotFound, order)
	}
	t.entries = slices.Delete(slices.Clone(t.entries), idx, idx+1)
	return nil
}

// GetAll returns the routes sorted by descending order.
func (t *RoutingTable) GetAll() []Entry {
	return slices.Clone(t.snapshot())
}

// Flush removes every route at once.
func (t *RoutingTable) Flush() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

func (t *RoutingTable) snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries
}

// GetRouteFor returns the highest ordered route whose filters all match r, or nil.
func (t *RoutingTable) GetRouteFor(r Routable) (Route, int) {
	for _, e := range t.snapshot() {
		if e.Route.MatchFilters(r) {
			return e.Route, e.Order
		}
	}
	return nil, -1
}

// GetConnectorFor resolves r to a single connector, or nil when no route matches.
func (t *RoutingTable) GetConnectorFor(r Routable) Connector {
	route, _ := t.GetRouteFor(r)
	if route == nil {
		return nil
	}
	return PickConnector(route, t.picker)
}
