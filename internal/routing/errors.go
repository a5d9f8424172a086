package routing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConnector     = errors.New("invalid connector")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrInvalidRoute         = errors.New("invalid route")
	ErrInvalidOrder         = errors.New("order must be 0 (default route) or greater")
	ErrInvalidConnectorType = errors.New("connector type is not valid for this routing table")
	ErrRouteNotFound        = errors.New("route not found")
	ErrInvalidBillKey       = errors.New("invalid bill key")
	ErrInvalidRoutable      = errors.New("invalid routable")
)

// IncompatibleFilterError is returned when a filter is attached to a route type it cannot evaluate.
type IncompatibleFilterError struct {
	Filter    string
	RouteType RouteTypes
	Supported RouteTypes
}

func (e *IncompatibleFilterError) Error() string {
	return fmt.Sprintf("filter %s (used for %s) is not compatible with route type %s", e.Filter, e.Supported, e.RouteType)
}
