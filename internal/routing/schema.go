package routing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// The *Spec types are the serialized form of connectors, filters and routes,
// shared by persistence and the admin API.

type ConnectorSpec struct {
	Type    ConnectorType `json:"type"`
	CID     string        `json:"cid"`
	BaseURL string        `json:"base_url,omitempty"`
	Method  string        `json:"method,omitempty"`
}

func SpecOfConnector(c Connector) ConnectorSpec {
	s := ConnectorSpec{Type: c.Type(), CID: c.ID()}
	if h, ok := c.(*HttpConnector); ok {
		s.BaseURL = h.BaseURL
		s.Method = h.Method
	}
	return s
}

func (s ConnectorSpec) Build() (Connector, error) {
	switch s.Type {
	case ConnectorHTTP:
		return NewHttpConnector(s.CID, s.BaseURL, s.Method)
	case ConnectorSmppClient:
		return NewSmppClientConnector(s.CID)
	case ConnectorSmppServer:
		return NewSmppServerConnector(s.CID)
	}
	return nil, fmt.Errorf("%w: unknown connector type %q", ErrInvalidConnector, s.Type)
}

type FilterSpec struct {
	Type        FilterKind `json:"type"`
	CID         string     `json:"cid,omitempty"`
	UID         string     `json:"uid,omitempty"`
	GID         string     `json:"gid,omitempty"`
	Pattern     string     `json:"pattern,omitempty"`
	From        string     `json:"from,omitempty"`
	To          string     `json:"to,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	Interpreter string     `json:"interpreter,omitempty"`
	Source      string     `json:"source,omitempty"`
	Path        string     `json:"path,omitempty"`
}

func SpecOfFilter(f Filter) FilterSpec {
	s := FilterSpec{Type: f.Kind()}
	switch x := f.(type) {
	case *TransparentFilter:
	case *ConnectorFilter:
		s.CID = x.CID
	case *UserFilter:
		s.UID = x.UID
	case *GroupFilter:
		s.GID = x.GID
	case *SourceAddrFilter:
		s.Pattern = x.Pattern
	case *DestinationAddrFilter:
		s.Pattern = x.Pattern
	case *ShortMessageFilter:
		s.Pattern = x.Pattern
	case *DateIntervalFilter:
		s.From, s.To = x.From.Format(dateLayout), x.To.Format(dateLayout)
	case *TimeIntervalFilter:
		s.From, s.To = formatClock(x.From), formatClock(x.To)
	case *TagFilter:
		s.Tag = x.Tag
	case *EvalScriptFilter:
		s.Interpreter, s.Source, s.Path = x.Interpreter, x.Source, x.Path
	}
	return s
}

func (s FilterSpec) Build() (Filter, error) {
	switch s.Type {
	case KindTransparent:
		return NewTransparentFilter(), nil
	case KindConnector:
		return NewConnectorFilter(s.CID)
	case KindUser:
		return NewUserFilter(s.UID)
	case KindGroup:
		return NewGroupFilter(s.GID)
	case KindSourceAddr:
		return NewSourceAddrFilter(s.Pattern)
	case KindDestinationAddr:
		return NewDestinationAddrFilter(s.Pattern)
	case KindShortMessage:
		return NewShortMessageFilter(s.Pattern)
	case KindDateInterval:
		return NewDateIntervalFilter(s.From, s.To)
	case KindTimeInterval:
		return NewTimeIntervalFilter(s.From, s.To)
	case KindTag:
		return NewTagFilter(s.Tag)
	case KindEvalScript:
		if s.Path != "" {
			return NewEvalScriptFilterFromFile(s.Interpreter, s.Path)
		}
		return NewEvalScriptFilter(s.Interpreter, s.Source)
	}
	return nil, fmt.Errorf("%w: unknown filter type %q", ErrInvalidFilter, s.Type)
}

type RouteSpec struct {
	Type       RouteKind       `json:"type"`
	Order      int             `json:"order"`
	Filters    []FilterSpec    `json:"filters,omitempty"`
	Connectors []ConnectorSpec `json:"connectors"`
	Rate       decimal.Decimal `json:"rate"`
	// Description is informational and ignored by Build.
	Description string `json:"description,omitempty"`
}

func SpecOfEntry(e Entry) RouteSpec {
	s := RouteSpec{Type: e.Route.Kind(), Order: e.Order, Rate: e.Route.Rate(), Description: e.Route.String()}
	for _, f := range e.Route.Filters() {
		s.Filters = append(s.Filters, SpecOfFilter(f))
	}
	for _, c := range e.Route.Connectors() {
		s.Connectors = append(s.Connectors, SpecOfConnector(c))
	}
	return s
}

func (s RouteSpec) Build() (Route, error) {
	filters := make([]Filter, 0, len(s.Filters))
	for _, fs := range s.Filters {
		f, err := fs.Build()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	connectors := make([]Connector, 0, len(s.Connectors))
	for _, cs := range s.Connectors {
		c, err := cs.Build()
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	first := func() Connector {
		if len(connectors) == 0 {
			return nil
		}
		return connectors[0]
	}

	switch s.Type {
	case KindDefaultRoute:
		return NewDefaultRoute(first(), s.Rate)
	case KindStaticMORoute:
		return NewStaticMORoute(filters, first())
	case KindStaticMTRoute:
		return NewStaticMTRoute(filters, first(), s.Rate)
	case KindRandomRoundrobinMORoute:
		return NewRandomRoundrobinMORoute(filters, connectors)
	case KindRandomRoundrobinMTRoute:
		return NewRandomRoundrobinMTRoute(filters, connectors, s.Rate)
	case KindFailoverMORoute:
		return NewFailoverMORoute(filters, connectors)
	case KindFailoverMTRoute:
		return NewFailoverMTRoute(filters, connectors, s.Rate)
	}
	return nil, fmt.Errorf("%w: unknown route type %q", ErrInvalidRoute, s.Type)
}
