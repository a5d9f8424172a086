package dlr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	SubmitKeyPrefix      = "dlr:"
	SMSCKeyPrefix        = "queue-msgid:"
	LongDeliverKeyPrefix = "longDeliverSm:"

	// LongDeliverPartsTTL bounds how long parts of a concatenated MO wait for the rest.
	LongDeliverPartsTTL = 300 * time.Second
)

// Source connectors recorded in a Mapping.
const (
	SourceHTTPAPI  = "httpapi"
	SourceSMPPSAPI = "smppsapi"
)

var (
	ErrNotFound      = errors.New("dlr mapping not found")
	ErrMapMismatch   = errors.New("dlr mapping source connector mismatch")
	ErrUnknownStatus = errors.New("unknown message status")
)

// Mapping is what a submit asked for regarding receipts, keyed by our message id.
type Mapping struct {
	MessageID       string    `json:"msgid"`
	SourceConnector string    `json:"sc"`
	ConnectorID     string    `json:"cid,omitempty"`
	UserID          string    `json:"uid,omitempty"`
	SubmitAt        time.Time `json:"sub_date"`
	Expiry          int       `json:"expiry"` // seconds

	// httpapi
	DLRLevel  int    `json:"level,omitempty"`
	DLRURL    string `json:"url,omitempty"`
	DLRMethod string `json:"method,omitempty"`

	// smppsapi
	SystemID           string `json:"system_id,omitempty"`
	SourceAddr         string `json:"source_addr,omitempty"`
	SourceAddrTON      uint8  `json:"source_addr_ton,omitempty"`
	SourceAddrNPI      uint8  `json:"source_addr_npi,omitempty"`
	DestinationAddr    string `json:"destination_addr,omitempty"`
	DestAddrTON        uint8  `json:"dest_addr_ton,omitempty"`
	DestAddrNPI        uint8  `json:"dest_addr_npi,omitempty"`
	RegisteredDelivery int    `json:"rd_receipt,omitempty"`
}

// SMSCMapping links an SMSC message id back to our message id.
type SMSCMapping struct {
	MessageID     string `json:"msgid"`
	ConnectorType string `json:"connector_type"`
}

// Store keeps receipt correlation state with per-key expiry.
type Store interface {
	SetSubmitMapping(ctx context.Context, msgID string, m Mapping, ttl time.Duration) error
	GetSubmitMapping(ctx context.Context, msgID string) (*Mapping, error)
	Delete(ctx context.Context, msgID string) error
	SetSMSCMapping(ctx context.Context, smscMsgID string, m SMSCMapping, ttl time.Duration) error
	GetSMSCMapping(ctx context.Context, smscMsgID string) (*SMSCMapping, error)
	// AddLongDeliverPart stores part seq of a concatenated MO; added is false when seq was already stored.
	AddLongDeliverPart(ctx context.Context, key string, seq int, part []byte) (added bool, err error)
	LongDeliverParts(ctx context.Context, key string) (map[int][]byte, error)
	DeleteLongDeliverParts(ctx context.Context, key string) error
}

// LongDeliverKey identifies the parts of one concatenated MO.
func LongDeliverKey(cid string, ref uint16, destination string) string {
	return fmt.Sprintf("%s%s:%d:%s", LongDeliverKeyPrefix, cid, ref, destination)
}

// ============================================================================
// Redis
// ============================================================================

type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		slog.ErrorContext(ctx, "Failed to store DLR mapping", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetSubmitMapping(ctx context.Context, msgID string, m Mapping, ttl time.Duration) error {
	return s.setJSON(ctx, SubmitKeyPrefix+msgID, m, ttl)
}

func (s *RedisStore) GetSubmitMapping(ctx context.Context, msgID string) (*Mapping, error) {
	var m Mapping
	if err := s.getJSON(ctx, SubmitKeyPrefix+msgID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RedisStore) Delete(ctx context.Context, msgID string) error {
	return s.client.Del(ctx, SubmitKeyPrefix+msgID).Err()
}

func (s *RedisStore) SetSMSCMapping(ctx context.Context, smscMsgID string, m SMSCMapping, ttl time.Duration) error {
	return s.setJSON(ctx, SMSCKeyPrefix+smscMsgID, m, ttl)
}

func (s *RedisStore) GetSMSCMapping(ctx context.Context, smscMsgID string) (*SMSCMapping, error) {
	var m SMSCMapping
	if err := s.getJSON(ctx, SMSCKeyPrefix+smscMsgID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RedisStore) AddLongDeliverPart(ctx context.Context, key string, seq int, part []byte) (bool, error) {
	added, err := s.client.HSetNX(ctx, key, strconv.Itoa(seq), part).Result()
	if err != nil {
		return false, err
	}
	if !added {
		slog.WarnContext(ctx, "Long deliver_sm part already stored", slog.String("key", key), slog.Int("seq", seq))
		return false, nil
	}
	return true, s.client.Expire(ctx, key, LongDeliverPartsTTL).Err()
}

func (s *RedisStore) LongDeliverParts(ctx context.Context, key string) (map[int][]byte, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	parts := make(map[int][]byte, len(raw))
	for k, v := range raw {
		seq, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		parts[seq] = []byte(v)
	}
	return parts, nil
}

func (s *RedisStore) DeleteLongDeliverParts(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// ============================================================================
// Memory
// ============================================================================

// MemoryStore keeps everything in process; used in tests and memory:// setups.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memEntry
	parts map[string]map[int][]byte
}

type memEntry struct {
	value   []byte
	expires time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return NewMemoryStoreWithClock(time.Now) }

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{now: now, items: make(map[string]memEntry), parts: make(map[string]map[int][]byte)}
}

func (s *MemoryStore) set(key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := memEntry{value: b}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) get(key string, v any) error {
	s.mu.Lock()
	e, ok := s.items[key]
	if ok && !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.items, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return json.Unmarshal(e.value, v)
}

func (s *MemoryStore) SetSubmitMapping(_ context.Context, msgID string, m Mapping, ttl time.Duration) error {
	return s.set(SubmitKeyPrefix+msgID, m, ttl)
}

func (s *MemoryStore) GetSubmitMapping(_ context.Context, msgID string) (*Mapping, error) {
	var m Mapping
	if err := s.get(SubmitKeyPrefix+msgID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MemoryStore) Delete(_ context.Context, msgID string) error {
	s.mu.Lock()
	delete(s.items, SubmitKeyPrefix+msgID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetSMSCMapping(_ context.Context, smscMsgID string, m SMSCMapping, ttl time.Duration) error {
	return s.set(SMSCKeyPrefix+smscMsgID, m, ttl)
}

func (s *MemoryStore) GetSMSCMapping(_ context.Context, smscMsgID string) (*SMSCMapping, error) {
	var m SMSCMapping
	if err := s.get(SMSCKeyPrefix+smscMsgID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MemoryStore) AddLongDeliverPart(_ context.Context, key string, seq int, part []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[key]
	if !ok {
		p = make(map[int][]byte)
		s.parts[key] = p
	}
	if _, dup := p[seq]; dup {
		return false, nil
	}
	p[seq] = append([]byte(nil), part...)
	return true, nil
}

func (s *MemoryStore) LongDeliverParts(_ context.Context, key string) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int][]byte, len(s.parts[key]))
	for k, v := range s.parts[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) DeleteLongDeliverParts(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.parts, key)
	s.mu.Unlock()
	return nil
}

// Keys lists live keys, sorted. Test helper.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k, e := range s.items {
		if e.expires.IsZero() || s.now().Before(e.expires) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
