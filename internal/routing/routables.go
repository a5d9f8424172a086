package routing

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

// RouteTypes is a set of routing directions.
type RouteTypes uint8

const (
	MO RouteTypes = 1 << iota
	MT
)

// Has reports whether every direction of o is in t.
func (t RouteTypes) Has(o RouteTypes) bool { return o != 0 && t&o == o }

func (t RouteTypes) String() string {
	var parts []string
	if t&MO != 0 {
		parts = append(parts, "mo")
	}
	if t&MT != 0 {
		parts = append(parts, "mt")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Routable wraps a PDU with the metadata filters evaluate.
type Routable interface {
	Type() RouteTypes
	PDU() *smpphelper.PDU
	DateTime() time.Time
	Tags() []string
	HasTag(tag string) bool
	AddTag(tag string)
	RemoveTag(tag string)
	FlushTags()
}

type routableBase struct {
	pdu      *smpphelper.PDU
	dateTime time.Time
	tags     []string
}

func (r *routableBase) PDU() *smpphelper.PDU { return r.pdu }
func (r *routableBase) DateTime() time.Time  { return r.dateTime }
func (r *routableBase) Tags() []string       { return slices.Clone(r.tags) }
func (r *routableBase) HasTag(tag string) bool {
	return slices.Contains(r.tags, tag)
}

func (r *routableBase) AddTag(tag string) {
	if !r.HasTag(tag) {
		r.tags = append(r.tags, tag)
	}
}

func (r *routableBase) RemoveTag(tag string) {
	r.tags = slices.DeleteFunc(r.tags, func(t string) bool { return t == tag })
}

func (r *routableBase) FlushTags() { r.tags = nil }

// RoutableOption tunes routable construction.
type RoutableOption func(*routableBase)

// WithDateTime pins the routable date instead of time.Now.
func WithDateTime(t time.Time) RoutableOption {
	return func(r *routableBase) { r.dateTime = t }
}

// WithTags seeds the routable tags.
func WithTags(tags ...string) RoutableOption {
	return func(r *routableBase) {
		for _, t := range tags {
			r.AddTag(t)
		}
	}
}

func newBase(pdu *smpphelper.PDU, opts []RoutableOption) routableBase {
	b := routableBase{pdu: pdu, dateTime: time.Now()}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// RoutableDeliverSm is an MO message received on Connector.
type RoutableDeliverSm struct {
	routableBase
	Connector Connector
}

func NewRoutableDeliverSm(pdu *smpphelper.PDU, connector Connector, opts ...RoutableOption) (*RoutableDeliverSm, error) {
	if pdu == nil {
		return nil, fmt.Errorf("%w: missing pdu", ErrInvalidRoutable)
	}
	if connector == nil {
		return nil, fmt.Errorf("%w: missing connector", ErrInvalidRoutable)
	}
	return &RoutableDeliverSm{routableBase: newBase(pdu, opts), Connector: connector}, nil
}

func (*RoutableDeliverSm) Type() RouteTypes { return MO }

// RoutableSubmitSm is an MT message submitted by User.
type RoutableSubmitSm struct {
	routableBase
	User *auth.User
}

func NewRoutableSubmitSm(pdu *smpphelper.PDU, user *auth.User, opts ...RoutableOption) (*RoutableSubmitSm, error) {
	if pdu == nil {
		return nil, fmt.Errorf("%w: missing pdu", ErrInvalidRoutable)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidRoutable)
	}
	return &RoutableSubmitSm{routableBase: newBase(pdu, opts), User: user}, nil
}

func (*RoutableSubmitSm) Type() RouteTypes { return MT }
