package routing

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// RouteKind names a route variant. It is also the persisted discriminator.
type RouteKind string

const (
	KindDefaultRoute            RouteKind = "DefaultRoute"
	KindStaticMORoute           RouteKind = "StaticMORoute"
	KindStaticMTRoute           RouteKind = "StaticMTRoute"
	KindRandomRoundrobinMORoute RouteKind = "RandomRoundrobinMORoute"
	KindRandomRoundrobinMTRoute RouteKind = "RandomRoundrobinMTRoute"
	KindFailoverMORoute         RouteKind = "FailoverMORoute"
	KindFailoverMTRoute         RouteKind = "FailoverMTRoute"
)

// Route couples a filter set (AND-ed) with one or more connectors and, for MT, a rate.
type Route interface {
	Kind() RouteKind
	// Type is the routable direction the route serves; DefaultRoute serves both.
	Type() RouteTypes
	Filters() []Filter
	Connectors() []Connector
	Rate() decimal.Decimal
	MatchFilters(r Routable) bool
	String() string
	base() *baseRoute
}

type baseRoute struct {
	filters    []Filter
	connectors []Connector
	rate       decimal.Decimal
	// counter drives RotatingPicker.
	counter atomic.Uint64
}

func (b *baseRoute) base() *baseRoute        { return b }
func (b *baseRoute) Filters() []Filter       { return append([]Filter(nil), b.filters...) }
func (b *baseRoute) Connectors() []Connector { return append([]Connector(nil), b.connectors...) }
func (b *baseRoute) Rate() decimal.Decimal   { return b.rate }

func (b *baseRoute) MatchFilters(r Routable) bool {
	for _, f := range b.filters {
		if !f.Matches(r) {
			return false
		}
	}
	return true
}

func (b *baseRoute) init(routeType RouteTypes, filters []Filter, connectors []Connector, rate decimal.Decimal) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: at least one filter is required", ErrInvalidRoute)
	}
	for _, f := range filters {
		if f == nil {
			return fmt.Errorf("%w: nil filter", ErrInvalidRoute)
		}
		if err := CheckCompatible(f, routeType); err != nil {
			return err
		}
	}
	if err := checkConnectors(connectors); err != nil {
		return err
	}
	if rate.IsNegative() {
		return fmt.Errorf("%w: rate can not be a negative value", ErrInvalidRoute)
	}
	b.filters = append([]Filter(nil), filters...)
	b.connectors = append([]Connector(nil), connectors...)
	b.rate = rate
	return nil
}

func checkConnectors(connectors []Connector) error {
	if len(connectors) == 0 {
		return fmt.Errorf("%w: at least one connector is required", ErrInvalidRoute)
	}
	for _, c := range connectors {
		if c == nil {
			return fmt.Errorf("%w: nil connector", ErrInvalidRoute)
		}
	}
	return nil
}

func rateString(rate decimal.Decimal) string {
	if rate.IsPositive() {
		return "rated " + rate.StringFixed(2)
	}
	return "NOT RATED"
}

func describe(kind RouteKind, connectors []Connector, rate decimal.Decimal, rated bool) string {
	var b strings.Builder
	if len(connectors) == 1 {
		fmt.Fprintf(&b, "%s to %s", kind, connectors[0])
	} else {
		fmt.Fprintf(&b, "%s to %d connectors:", kind, len(connectors))
		for _, c := range connectors {
			fmt.Fprintf(&b, "\n\t- %s", c)
		}
		if rated {
			b.WriteString("\n")
		}
	}
	if rated {
		if len(connectors) == 1 {
			b.WriteString(" ")
		}
		b.WriteString(rateString(rate))
	}
	return b.String()
}

// =============================================================================
// DefaultRoute
// =============================================================================

// DefaultRoute has no filter and matches everything. It only lives at order 0.
type DefaultRoute struct {
	baseRoute
}

func NewDefaultRoute(connector Connector, rate decimal.Decimal) (*DefaultRoute, error) {
	if err := checkConnectors([]Connector{connector}); err != nil {
		return nil, err
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: rate can not be a negative value", ErrInvalidRoute)
	}
	return &DefaultRoute{baseRoute{connectors: []Connector{connector}, rate: rate}}, nil
}

func (*DefaultRoute) Kind() RouteKind            { return KindDefaultRoute }
func (*DefaultRoute) Type() RouteTypes           { return MO | MT }
func (*DefaultRoute) MatchFilters(Routable) bool { return true }
func (r *DefaultRoute) String() string {
	return describe(r.Kind(), r.connectors, r.rate, true)
}

// =============================================================================
// Static routes
// =============================================================================

type StaticMORoute struct {
	baseRoute
}

func NewStaticMORoute(filters []Filter, connector Connector) (*StaticMORoute, error) {
	r := &StaticMORoute{}
	if err := r.init(MO, filters, []Connector{connector}, decimal.Zero); err != nil {
		return nil, err
	}
	return r, nil
}

func (*StaticMORoute) Kind() RouteKind  { return KindStaticMORoute }
func (*StaticMORoute) Type() RouteTypes { return MO }
func (r *StaticMORoute) String() string { return describe(r.Kind(), r.connectors, r.rate, false) }

type StaticMTRoute struct {
	baseRoute
}

func NewStaticMTRoute(filters []Filter, connector Connector, rate decimal.Decimal) (*StaticMTRoute, error) {
	r := &StaticMTRoute{}
	if err := r.init(MT, filters, []Connector{connector}, rate); err != nil {
		return nil, err
	}
	return r, nil
}

func (*StaticMTRoute) Kind() RouteKind  { return KindStaticMTRoute }
func (*StaticMTRoute) Type() RouteTypes { return MT }
func (r *StaticMTRoute) String() string { return describe(r.Kind(), r.connectors, r.rate, true) }

// =============================================================================
// Round-robin routes
// =============================================================================

type RandomRoundrobinMORoute struct {
	baseRoute
}

func NewRandomRoundrobinMORoute(filters []Filter, connectors []Connector) (*RandomRoundrobinMORoute, error) {
	r := &RandomRoundrobinMORoute{}
	if err := r.init(MO, filters, connectors, decimal.Zero); err != nil {
		return nil, err
	}
	return r, nil
}

func (*RandomRoundrobinMORoute) Kind() RouteKind  { return KindRandomRoundrobinMORoute }
func (*RandomRoundrobinMORoute) Type() RouteTypes { return MO }
func (r *RandomRoundrobinMORoute) String() string {
	return describe(r.Kind(), r.connectors, r.rate, false)
}

type RandomRoundrobinMTRoute struct {
	baseRoute
}

func NewRandomRoundrobinMTRoute(filters []Filter, connectors []Connector, rate decimal.Decimal) (*RandomRoundrobinMTRoute, error) {
	r := &RandomRoundrobinMTRoute{}
	if err := r.init(MT, filters, connectors, rate); err != nil {
		return nil, err
	}
	return r, nil
}

func (*RandomRoundrobinMTRoute) Kind() RouteKind  { return KindRandomRoundrobinMTRoute }
func (*RandomRoundrobinMTRoute) Type() RouteTypes { return MT }
func (r *RandomRoundrobinMTRoute) String() string {
	return describe(r.Kind(), r.connectors, r.rate, true)
}

// =============================================================================
// Failover routes
// =============================================================================

// FailoverMORoute hands every connector, in order, to the caller which tries them in turn.
type FailoverMORoute struct {
	baseRoute
}

func NewFailoverMORoute(filters []Filter, connectors []Connector) (*FailoverMORoute, error) {
	r := &FailoverMORoute{}
	if err := r.init(MO, filters, connectors, decimal.Zero); err != nil {
		return nil, err
	}
	return r, nil
}

func (*FailoverMORoute) Kind() RouteKind  { return KindFailoverMORoute }
func (*FailoverMORoute) Type() RouteTypes { return MO }
func (r *FailoverMORoute) String() string {
	return describe(r.Kind(), r.connectors, r.rate, false)
}

type FailoverMTRoute struct {
	baseRoute
}

func NewFailoverMTRoute(filters []Filter, connectors []Connector, rate decimal.Decimal) (*FailoverMTRoute, error) {
	r := &FailoverMTRoute{}
	if err := r.init(MT, filters, connectors, rate); err != nil {
		return nil, err
	}
	return r, nil
}

func (*FailoverMTRoute) Kind() RouteKind  { return KindFailoverMTRoute }
func (*FailoverMTRoute) Type() RouteTypes { return MT }
func (r *FailoverMTRoute) String() string {
	return describe(r.Kind(), r.connectors, r.rate, true)
}

// IsFailover reports whether the caller should walk all connectors of r.
func IsFailover(r Route) bool {
	switch r.(type) {
	case *FailoverMORoute, *FailoverMTRoute:
		return true
	}
	return false
}

// PickConnector selects the single connector a route resolves to.
// Failover routes resolve to their first connector.
func PickConnector(r Route, picker Picker) Connector {
	b := r.base()
	switch r.(type) {
	case *RandomRoundrobinMORoute, *RandomRoundrobinMTRoute:
		if picker == nil {
			picker = RandomPicker{}
		}
		return picker.Pick(b.connectors, &b.counter)
	case *DefaultRoute, *StaticMORoute, *StaticMTRoute, *FailoverMORoute, *FailoverMTRoute:
		return b.connectors[0]
	}
	return nil
}
