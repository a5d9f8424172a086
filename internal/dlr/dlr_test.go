package dlr

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrillee/aegisrouter/internal/queue"
)

func TestCodeMessageID(t *testing.T) {
	assert.Equal(t, "ABC12", CodeMessageID("00abc12", BasesNone))
	assert.Equal(t, "FF", CodeMessageID("255", BasesDecToHex))
	assert.Equal(t, "255", CodeMessageID("ff", BasesHexToDec))
	assert.Equal(t, "XYZ", CodeMessageID("xyz", BasesHexToDec))
	assert.Equal(t, "12AB", CodeMessageID("12ab", BasesDecToHex))
}

func TestStateFor(t *testing.T) {
	state, stat, code, err := StateFor("ESME_ROK")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, state)
	assert.Equal(t, "ACCEPTD", stat)
	assert.Equal(t, 0, code)

	state, stat, code, err = StateFor("ESME_RTHROTTLED")
	require.NoError(t, err)
	assert.Equal(t, StateUndeliverable, state)
	assert.Equal(t, "UNDELIV", stat)
	assert.Equal(t, 10, code)

	_, _, code, err = StateFor("EXPIRED")
	require.NoError(t, err)
	assert.Equal(t, 30, code)

	_, _, _, err = StateFor("WHATEVER")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestReceiptStat(t *testing.T) {
	var r Receipt
	r.SetStat("DELIVRD")
	assert.Equal(t, StatDelivered, r.Stat)
	assert.Equal(t, "DELIVRD", r.Status())
	r.SetStat("UNDELIV")
	assert.Equal(t, "UNDELIV", r.Stat)
	assert.Equal(t, "UNKNOWN", StateName(42))
	assert.Equal(t, "DELIVRD", StateName(StateDelivered))
}

type lookupFixture struct {
	store  *MemoryStore
	broker *queue.MemoryBroker
	lookup *Lookup
}

func newLookupFixture(t *testing.T) *lookupFixture {
	t.Helper()
	ctx := context.Background()
	b := queue.NewMemoryBroker()
	t.Cleanup(func() { b.Close() })
	require.NoError(t, b.DeclareQueue(ctx, "http", queue.ExchangeMessaging, "dlr_thrower.http"))
	require.NoError(t, b.DeclareQueue(ctx, "smpps", queue.ExchangeMessaging, "dlr_thrower.smpps"))
	s := NewMemoryStore()
	return &lookupFixture{store: s, broker: b, lookup: NewLookup(s, b)}
}

func (f *lookupFixture) next(t *testing.T, q string) *queue.DLRContent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tag := fmt.Sprintf("test-%s-%d", q, time.Now().UnixNano())
	ch, err := f.broker.Consume(ctx, q, tag)
	require.NoError(t, err)
	defer f.broker.Cancel(tag)
	select {
	case d := <-ch:
		require.NotNil(t, d)
		var c queue.DLRContent
		require.NoError(t, queue.Decode(d.Message().Body, &c))
		require.NoError(t, d.Ack())
		return &c
	case <-ctx.Done():
		t.Fatalf("no receipt on %s", q)
		return nil
	}
}

func TestLookupHTTPLevel3(t *testing.T) {
	ctx := context.Background()
	f := newLookupFixture(t)
	require.NoError(t, f.lookup.Request(ctx, Mapping{
		MessageID: "m1", SourceConnector: SourceHTTPAPI, ConnectorID: "smppc1",
		DLRLevel: 3, DLRURL: "http://cb/dlr", DLRMethod: "POST", Expiry: 3600,
	}))

	require.NoError(t, f.lookup.SubmitSmResp(ctx, "m1", "ESME_ROK", "00a1"))
	c := f.next(t, "http")
	assert.Equal(t, 1, c.Level)
	assert.Equal(t, "ESME_ROK", c.MessageStatus)
	assert.Equal(t, "http://cb/dlr", c.URL)

	var r Receipt
	r.ID, r.Sub, r.Dlvrd = "A1", "001", "001"
	r.SetStat("DELIVRD")
	require.NoError(t, f.lookup.Receipt(ctx, "smppc1", CodeMessageID("00a1", BasesNone), r))
	c = f.next(t, "http")
	assert.Equal(t, 2, c.Level)
	assert.Equal(t, "DELIVRD", c.MessageStatus)
	assert.Equal(t, "A1", c.SMSCMessageID)

	_, err := f.store.GetSubmitMapping(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupHTTPLevel1RemovesMapping(t *testing.T) {
	ctx := context.Background()
	f := newLookupFixture(t)
	require.NoError(t, f.lookup.Request(ctx, Mapping{MessageID: "m2", SourceConnector: SourceHTTPAPI, DLRLevel: 1, DLRURL: "http://cb", Expiry: 60}))
	require.NoError(t, f.lookup.SubmitSmResp(ctx, "m2", "ESME_ROK", "1"))
	f.next(t, "http")
	assert.Empty(t, f.store.Keys())
}

func TestLookupSMPPS(t *testing.T) {
	ctx := context.Background()
	f := newLookupFixture(t)
	require.NoError(t, f.lookup.Request(ctx, Mapping{
		MessageID: "m3", SourceConnector: SourceSMPPSAPI, SystemID: "esme1",
		SourceAddr: "100", DestinationAddr: "200", RegisteredDelivery: ReceiptRequested, Expiry: 60,
	}))
	require.NoError(t, f.lookup.SubmitSmResp(ctx, "m3", "ESME_ROK", "77"))
	assert.Equal(t, 0, f.broker.Len("smpps"))

	var r Receipt
	r.SetStat("UNDELIV")
	require.NoError(t, f.lookup.Receipt(ctx, "smppc1", "77", r))
	c := f.next(t, "smpps")
	assert.Equal(t, "esme1", c.SystemID)
	assert.Equal(t, "UNDELIV", c.MessageStatus)
	assert.NotContains(t, f.store.Keys(), SubmitKeyPrefix+"m3")
}

func TestLookupUnknown(t *testing.T) {
	f := newLookupFixture(t)
	err := f.lookup.Receipt(context.Background(), "c", "nope", Receipt{})
	assert.True(t, IsNotFound(err))
	err = f.lookup.SubmitSmResp(context.Background(), "nope", "ESME_ROK", "1")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, s.SetSMSCMapping(ctx, "X", SMSCMapping{MessageID: "m"}, time.Minute))
	_, err := s.GetSMSCMapping(ctx, "X")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = s.GetSMSCMapping(ctx, "X")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLongDeliverParts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := LongDeliverKey("smppc1", 12, "555")
	assert.Equal(t, "longDeliverSm:smppc1:12:555", key)
	added, err := s.AddLongDeliverPart(ctx, key, 1, []byte("a"))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddLongDeliverPart(ctx, key, 1, []byte("b"))
	require.NoError(t, err)
	assert.False(t, added)
	parts, err := s.LongDeliverParts(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[int][]byte{1: []byte("a")}, parts)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	s := NewRedisStore(client)

	require.NoError(t, s.SetSubmitMapping(ctx, "it-m1", Mapping{MessageID: "it-m1", SourceConnector: SourceHTTPAPI, DLRLevel: 2}, time.Minute))
	m, err := s.GetSubmitMapping(ctx, "it-m1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.DLRLevel)
	require.NoError(t, s.Delete(ctx, "it-m1"))
	_, err = s.GetSubmitMapping(ctx, "it-m1")
	assert.ErrorIs(t, err, ErrNotFound)

	key := LongDeliverKey("it", 1, "1")
	defer s.DeleteLongDeliverParts(ctx, key)
	added, err := s.AddLongDeliverPart(ctx, key, 2, []byte("x"))
	require.NoError(t, err)
	assert.True(t, added)
	parts, err := s.LongDeliverParts(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), parts[2])
}
