// Package stats keeps per connector and API counters. A Registry is built
// once per process and passed to whoever updates or exports counters.
package stats

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/thrillee/aegisrouter/pkg/codes"
)

var (
	ErrKeyNotFound         = errors.New("stats key not found")
	ErrKeyNotIncrementable = errors.New("stats key is not incrementable")
)

const timeLayout = "2006-01-02 15:04:05"

// Connector keys.
const (
	CreatedAt           = "created_at"
	LastReceivedPduAt   = "last_received_pdu_at"
	LastSentPduAt       = "last_sent_pdu_at"
	LastReceivedElinkAt = "last_received_elink_at"
	LastSentElinkAt     = "last_sent_elink_at"
	LastSeqNumAt        = "last_seqNum_at"
	LastSeqNum          = "last_seqNum"
	ConnectedAt         = "connected_at"
	BoundAt             = "bound_at"
	DisconnectedAt      = "disconnected_at"

	ConnectedCount        = "connected_count"
	BoundCount            = "bound_count"
	BoundRXCount          = "bound_rx_count"
	BoundTXCount          = "bound_tx_count"
	BoundTRXCount         = "bound_trx_count"
	DisconnectedCount     = "disconnected_count"
	SubmitSmCount         = "submit_sm_count"
	SubmitSmRespCount     = "submit_sm_resp_count"
	DeliverSmCount        = "deliver_sm_count"
	DataSmCount           = "data_sm_count"
	ElinkCount            = "elink_count"
	ThrottlingErrorCount  = "throttling_error_count"
	OtherSubmitErrorCount = "other_submit_error_count"
	StartCount            = "start_count"
	StopCount             = "stop_count"
)

// API keys.
const (
	LastRequestAt = "last_request_at"

	SubmitSmRequestCount = "submit_sm_request_count"
	SubmitSmRoutedCount  = "submit_sm_routed_count"
	DeliverSmRoutedCount = "deliver_sm_routed_count"
	NoRouteCount         = "no_route_count"
	AuthErrorCount       = "auth_error_count"
	RouteErrorCount      = "route_error_count"
	ChargingErrorCount   = "charging_error_count"
	ThrottledCount       = "throttled_count"
	BillRequestCount     = "bill_request_count"
	BillRejectedCount    = "bill_rejected_count"

	DLRThrownCount           = "dlr_thrown_count"
	DLRThrowErrorCount       = "dlr_throw_error_count"
	DeliverSmThrownCount     = "deliver_sm_thrown_count"
	DeliverSmThrowErrorCount = "deliver_sm_throw_error_count"
)

var (
	connectorTimeKeys = []string{
		CreatedAt, LastReceivedPduAt, LastSentPduAt, LastReceivedElinkAt, LastSentElinkAt,
		LastSeqNumAt, ConnectedAt, BoundAt, DisconnectedAt,
	}
	connectorCountKeys = []string{
		LastSeqNum, ConnectedCount, BoundCount, BoundRXCount, BoundTXCount, BoundTRXCount,
		DisconnectedCount, SubmitSmCount, SubmitSmRespCount, DeliverSmCount, DataSmCount,
		ElinkCount, ThrottlingErrorCount, OtherSubmitErrorCount, StartCount, StopCount,
	}
	apiTimeKeys  = []string{CreatedAt, LastRequestAt}
	apiCountKeys = []string{
		SubmitSmRequestCount, SubmitSmRoutedCount, DeliverSmRoutedCount, NoRouteCount,
		AuthErrorCount, RouteErrorCount, ChargingErrorCount, ThrottledCount,
		BillRequestCount, BillRejectedCount,
		DLRThrownCount, DLRThrowErrorCount, DeliverSmThrownCount, DeliverSmThrowErrorCount,
	}
)

// nonIncrementable counts are set, never incremented.
var nonIncrementable = map[string]bool{LastSeqNum: true}

// Stats is a fixed set of timestamp and integer keys.
type Stats struct {
	mu       sync.Mutex
	times    map[string]time.Time
	counters map[string]int64
}

func newStats(timeKeys, countKeys []string, now time.Time) *Stats {
	s := &Stats{
		times:    make(map[string]time.Time, len(timeKeys)),
		counters: make(map[string]int64, len(countKeys)),
	}
	for _, k := range timeKeys {
		s.times[k] = time.Time{}
	}
	for _, k := range countKeys {
		s.counters[k] = 0
	}
	s.times[CreatedAt] = now
	return s
}

// Set stores a time.Time for timestamp keys or an integer for count keys.
func (s *Stats) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.times[key]; ok {
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("stats key %s expects a time, got %T", key, value)
		}
		s.times[key] = t
		return nil
	}
	if _, ok := s.counters[key]; ok {
		switch v := value.(type) {
		case int:
			s.counters[key] = int64(v)
		case int32:
			s.counters[key] = int64(v)
		case int64:
			s.counters[key] = v
		default:
			return fmt.Errorf("stats key %s expects an integer, got %T", key, value)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// Get returns a time.Time or an int64.
func (s *Stats) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.times[key]; ok {
		return t, nil
	}
	if c, ok := s.counters[key]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// Count is Get for count keys; unknown keys read as 0.
func (s *Stats) Count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// Inc adds 1 to a count key.
func (s *Stats) Inc(key string) error { return s.Add(key, 1) }

// Add adds n to a count key.
func (s *Stats) Add(key string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.times[key]; ok || nonIncrementable[key] {
		return fmt.Errorf("%w: %s", ErrKeyNotIncrementable, key)
	}
	if _, ok := s.counters[key]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	s.counters[key] += n
	return nil
}

// Snapshot renders every key; unset timestamps render as "ND".
func (s *Stats) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.times)+len(s.counters))
	for k, t := range s.times {
		if t.IsZero() {
			out[k] = codes.NotDefined
		} else {
			out[k] = t.Format(timeLayout)
		}
	}
	for k, c := range s.counters {
		out[k] = strconv.FormatInt(c, 10)
	}
	return out
}

// Counters copies the count keys.
func (s *Stats) Counters() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, c := range s.counters {
		out[k] = c
	}
	return out
}

// Registry owns the connector and API stats of one process.
type Registry struct {
	connectors cmap.ConcurrentMap[string, *Stats]
	api        *Stats
	now        func() time.Time
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		connectors: cmap.New[*Stats](),
		api:        newStats(apiTimeKeys, apiCountKeys, now()),
		now:        now,
	}
}

// Connector returns the stats of cid, creating them on first use.
func (r *Registry) Connector(cid string) *Stats {
	return r.connectors.Upsert(cid, nil, func(exist bool, cur, _ *Stats) *Stats {
		if exist {
			return cur
		}
		return newStats(connectorTimeKeys, connectorCountKeys, r.now())
	})
}

func (r *Registry) RemoveConnector(cid string) { r.connectors.Remove(cid) }

func (r *Registry) API() *Stats { return r.api }

// ConnectorIDs lists known connectors, sorted.
func (r *Registry) ConnectorIDs() []string {
	ids := r.connectors.Keys()
	sort.Strings(ids)
	return ids
}

// Now is the registry clock.
func (r *Registry) Now() time.Time { return r.now() }
