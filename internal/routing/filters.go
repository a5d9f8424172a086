package routing

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/thrillee/aegisrouter/internal/scripting"
)

// FilterKind names a filter variant. It is also the persisted discriminator.
type FilterKind string

const (
	KindTransparent     FilterKind = "TransparentFilter"
	KindConnector       FilterKind = "ConnectorFilter"
	KindUser            FilterKind = "UserFilter"
	KindGroup           FilterKind = "GroupFilter"
	KindSourceAddr      FilterKind = "SourceAddrFilter"
	KindDestinationAddr FilterKind = "DestinationAddrFilter"
	KindShortMessage    FilterKind = "ShortMessageFilter"
	KindDateInterval    FilterKind = "DateIntervalFilter"
	KindTimeInterval    FilterKind = "TimeIntervalFilter"
	KindTag             FilterKind = "TagFilter"
	KindEvalScript      FilterKind = "EvalScriptFilter"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Filter is a predicate over a Routable. Matches never fails: a routable the
// filter cannot evaluate simply does not match.
type Filter interface {
	Kind() FilterKind
	Matches(r Routable) bool
	UsedFor() RouteTypes
	String() string
}

// CheckCompatible returns an *IncompatibleFilterError when f cannot be used on routeType.
func CheckCompatible(f Filter, routeType RouteTypes) error {
	if !f.UsedFor().Has(routeType) {
		return &IncompatibleFilterError{Filter: string(f.Kind()), RouteType: routeType, Supported: f.UsedFor()}
	}
	return nil
}

// compilePattern anchors pattern at the start of the input.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidFilter, pattern, err)
	}
	return re, nil
}

// TransparentFilter matches everything.
type TransparentFilter struct{}

func NewTransparentFilter() *TransparentFilter   { return &TransparentFilter{} }
func (*TransparentFilter) Kind() FilterKind      { return KindTransparent }
func (*TransparentFilter) Matches(Routable) bool { return true }
func (*TransparentFilter) UsedFor() RouteTypes   { return MO | MT }
func (*TransparentFilter) String() string        { return "<T>" }

// ConnectorFilter matches MO routables received on the given connector.
type ConnectorFilter struct {
	CID string
}

func NewConnectorFilter(cid string) (*ConnectorFilter, error) {
	if err := ValidateConnectorID(cid); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return &ConnectorFilter{CID: cid}, nil
}

func (*ConnectorFilter) Kind() FilterKind    { return KindConnector }
func (*ConnectorFilter) UsedFor() RouteTypes { return MO }
func (f *ConnectorFilter) String() string    { return fmt.Sprintf("<C (cid=%s)>", f.CID) }
func (f *ConnectorFilter) Matches(r Routable) bool {
	d, ok := r.(*RoutableDeliverSm)
	return ok && d.Connector.ID() == f.CID
}

// UserFilter matches MT routables submitted by the given user.
type UserFilter struct {
	UID string
}

func NewUserFilter(uid string) (*UserFilter, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: empty uid", ErrInvalidFilter)
	}
	return &UserFilter{UID: uid}, nil
}

func (*UserFilter) Kind() FilterKind    { return KindUser }
func (*UserFilter) UsedFor() RouteTypes { return MT }
func (f *UserFilter) String() string    { return fmt.Sprintf("<U (uid=%s)>", f.UID) }
func (f *UserFilter) Matches(r Routable) bool {
	s, ok := r.(*RoutableSubmitSm)
	return ok && s.User.UID == f.UID
}

// GroupFilter matches MT routables submitted by a member of the given group.
type GroupFilter struct {
	GID string
}

func NewGroupFilter(gid string) (*GroupFilter, error) {
	if gid == "" {
		return nil, fmt.Errorf("%w: empty gid", ErrInvalidFilter)
	}
	return &GroupFilter{GID: gid}, nil
}

func (*GroupFilter) Kind() FilterKind    { return KindGroup }
func (*GroupFilter) UsedFor() RouteTypes { return MT }
func (f *GroupFilter) String() string    { return fmt.Sprintf("<G (gid=%s)>", f.GID) }
func (f *GroupFilter) Matches(r Routable) bool {
	s, ok := r.(*RoutableSubmitSm)
	return ok && s.User.GID == f.GID
}

// SourceAddrFilter matches the MO source address. MT source addresses are user supplied.
type SourceAddrFilter struct {
	Pattern string
	re      *regexp.Regexp
}

func NewSourceAddrFilter(pattern string) (*SourceAddrFilter, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &SourceAddrFilter{Pattern: pattern, re: re}, nil
}

func (*SourceAddrFilter) Kind() FilterKind    { return KindSourceAddr }
func (*SourceAddrFilter) UsedFor() RouteTypes { return MO }
func (f *SourceAddrFilter) String() string    { return fmt.Sprintf("<SA (src_addr=%s)>", f.Pattern) }
func (f *SourceAddrFilter) Matches(r Routable) bool {
	return f.re.MatchString(r.PDU().SourceAddr)
}

type DestinationAddrFilter struct {
	Pattern string
	re      *regexp.Regexp
}

func NewDestinationAddrFilter(pattern string) (*DestinationAddrFilter, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &DestinationAddrFilter{Pattern: pattern, re: re}, nil
}

func (*DestinationAddrFilter) Kind() FilterKind    { return KindDestinationAddr }
func (*DestinationAddrFilter) UsedFor() RouteTypes { return MO | MT }
func (f *DestinationAddrFilter) String() string {
	return fmt.Sprintf("<DA (dst_addr=%s)>", f.Pattern)
}
func (f *DestinationAddrFilter) Matches(r Routable) bool {
	return f.re.MatchString(r.PDU().DestinationAddr)
}

type ShortMessageFilter struct {
	Pattern string
	re      *regexp.Regexp
}

func NewShortMessageFilter(pattern string) (*ShortMessageFilter, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &ShortMessageFilter{Pattern: pattern, re: re}, nil
}

func (*ShortMessageFilter) Kind() FilterKind    { return KindShortMessage }
func (*ShortMessageFilter) UsedFor() RouteTypes { return MO | MT }
func (f *ShortMessageFilter) String() string    { return fmt.Sprintf("<SM (msg=%s)>", f.Pattern) }
func (f *ShortMessageFilter) Matches(r Routable) bool {
	return f.re.Match(r.PDU().Content())
}

// DateIntervalFilter matches routables dated within [From, To], both inclusive.
type DateIntervalFilter struct {
	From, To time.Time
}

// NewDateIntervalFilter parses YYYY-MM-DD bounds.
func NewDateIntervalFilter(from, to string) (*DateIntervalFilter, error) {
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: left border %q is not a date", ErrInvalidFilter, from)
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: right border %q is not a date", ErrInvalidFilter, to)
	}
	return &DateIntervalFilter{From: f, To: t}, nil
}

func (*DateIntervalFilter) Kind() FilterKind    { return KindDateInterval }
func (*DateIntervalFilter) UsedFor() RouteTypes { return MO | MT }
func (f *DateIntervalFilter) String() string {
	return fmt.Sprintf("<DI (%s,%s)>", f.From.Format(dateLayout), f.To.Format(dateLayout))
}
func (f *DateIntervalFilter) Matches(r Routable) bool {
	dt := r.DateTime()
	day := time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(f.From) && !day.After(f.To)
}

// TimeIntervalFilter matches routables whose time of day is within [From, To], both inclusive.
type TimeIntervalFilter struct {
	From, To time.Duration
}

// NewTimeIntervalFilter parses HH:MM:SS bounds.
func NewTimeIntervalFilter(from, to string) (*TimeIntervalFilter, error) {
	f, err := parseClock(from)
	if err != nil {
		return nil, fmt.Errorf("%w: left border %q is not a time", ErrInvalidFilter, from)
	}
	t, err := parseClock(to)
	if err != nil {
		return nil, fmt.Errorf("%w: right border %q is not a time", ErrInvalidFilter, to)
	}
	return &TimeIntervalFilter{From: f, To: t}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, err
	}
	return clockOf(t), nil
}

func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func formatClock(d time.Duration) string {
	return time.Time{}.Add(d).Format(timeLayout)
}

func (*TimeIntervalFilter) Kind() FilterKind    { return KindTimeInterval }
func (*TimeIntervalFilter) UsedFor() RouteTypes { return MO | MT }
func (f *TimeIntervalFilter) String() string {
	return fmt.Sprintf("<TI (%s,%s)>", formatClock(f.From), formatClock(f.To))
}
func (f *TimeIntervalFilter) Matches(r Routable) bool {
	c := clockOf(r.DateTime())
	return c >= f.From && c <= f.To
}

// TagFilter matches routables carrying Tag.
type TagFilter struct {
	Tag string
}

func NewTagFilter(tag string) (*TagFilter, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: empty tag", ErrInvalidFilter)
	}
	return &TagFilter{Tag: tag}, nil
}

func (*TagFilter) Kind() FilterKind          { return KindTag }
func (*TagFilter) UsedFor() RouteTypes       { return MO | MT }
func (f *TagFilter) String() string          { return fmt.Sprintf("<TG (tag=%s)>", f.Tag) }
func (f *TagFilter) Matches(r Routable) bool { return r.HasTag(f.Tag) }

// EvalScriptFilter runs a compiled predicate script. Compilation happens at
// construction so a broken script never reaches a route.
type EvalScriptFilter struct {
	Interpreter string
	Source      string
	Path        string
	prog        scripting.Program
}

// NewEvalScriptFilter compiles source with the named interpreter.
func NewEvalScriptFilter(interpreter, source string) (*EvalScriptFilter, error) {
	prog, err := scripting.Compile(interpreter, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return &EvalScriptFilter{Interpreter: prog.Interpreter(), Source: source, prog: prog}, nil
}

// NewEvalScriptFilterFromFile loads and compiles the script stored at path.
func NewEvalScriptFilterFromFile(interpreter, path string) (*EvalScriptFilter, error) {
	prog, err := scripting.Load(interpreter, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return &EvalScriptFilter{Interpreter: prog.Interpreter(), Path: path, prog: prog}, nil
}

func (*EvalScriptFilter) Kind() FilterKind    { return KindEvalScript }
func (*EvalScriptFilter) UsedFor() RouteTypes { return MO | MT }
func (f *EvalScriptFilter) String() string {
	if f.Path != "" {
		return fmt.Sprintf("<Ev (%s file=%s)>", f.Interpreter, f.Path)
	}
	src := f.Source
	if len(src) > 10 {
		src = src[:10]
	}
	return fmt.Sprintf("<Ev (%s code=%s ..)>", f.Interpreter, src)
}

func (f *EvalScriptFilter) Matches(r Routable) bool {
	ok, err := f.prog.Eval(routableEnv(r))
	if err != nil {
		slog.Warn("Script filter failed, not matching", slog.String("filter", f.String()), slog.Any("error", err))
		return false
	}
	return ok
}

// routableEnv exposes a routable to scripts as plain values.
func routableEnv(r Routable) map[string]any {
	p := r.PDU()
	env := map[string]any{
		"type":             r.Type().String(),
		"source_addr":      p.SourceAddr,
		"destination_addr": p.DestinationAddr,
		"content":          string(p.Content()),
		"tags":             r.Tags(),
		"datetime":         r.DateTime().Format(time.RFC3339),
	}
	if p.DataCoding != nil {
		env["data_coding"] = int(*p.DataCoding)
	}
	switch x := r.(type) {
	case *RoutableDeliverSm:
		env["connector"] = x.Connector.ID()
	case *RoutableSubmitSm:
		env["uid"] = x.User.UID
		env["gid"] = x.User.GID
	}
	return env
}
