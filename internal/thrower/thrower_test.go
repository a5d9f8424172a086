package thrower

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

const waitFor, tick = 2 * time.Second, 5 * time.Millisecond

type fixture struct {
	thrower *Thrower
	broker  *queue.MemoryBroker
	stats   *stats.Registry
}

func newFixture(t *testing.T, mutate func(*config.ThrowerConfig)) *fixture {
	t.Helper()
	cfg := config.ThrowerConfig{Timeout: time.Second, RetryDelay: 10 * time.Millisecond, MaxRetries: 2}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{broker: queue.NewMemoryBroker(), stats: stats.NewRegistry()}
	f.thrower = New(Options{
		Config: cfg,
		Broker: f.broker,
		Stats:  f.stats,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, f.thrower.Start(context.Background()))
	t.Cleanup(func() {
		f.thrower.Stop()
		_ = f.broker.Close()
	})
	return f
}

func (f *fixture) publish(t *testing.T, key string, c queue.Content) {
	t.Helper()
	msg, err := queue.Encode(c)
	require.NoError(t, err)
	require.NoError(t, f.broker.Publish(context.Background(), queue.ExchangeMessaging, key, msg))
}

// endpoint records every call and answers with reply(call number).
type endpoint struct {
	srv   *httptest.Server
	hits  atomic.Int32
	mu    sync.Mutex
	calls []*http.Request
	forms []url.Values
}

func newEndpoint(t *testing.T, reply func(n int32, w http.ResponseWriter)) *endpoint {
	t.Helper()
	e := &endpoint{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		e.mu.Lock()
		e.calls = append(e.calls, r)
		e.forms = append(e.forms, r.Form)
		e.mu.Unlock()
		reply(e.hits.Add(1), w)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *endpoint) request(i int) (*http.Request, url.Values) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[i], e.forms[i]
}

func ack(_ int32, w http.ResponseWriter) { _, _ = io.WriteString(w, AckBody+"\n") }

func dlrContent(url, method string, level int) *queue.DLRContent {
	return &queue.DLRContent{
		Version:       queue.ContentVersion,
		MessageID:     "msg-1",
		MessageStatus: "DELIVRD",
		Level:         level,
		URL:           url,
		Method:        method,
		ConnectorID:   "smppc_1",
		SMSCMessageID: "abc123",
		Sub:           "001",
		Dlvrd:         "001",
		SubDate:       "2401011200",
		DoneDate:      "2401011201",
		Err:           "000",
		Text:          "hello",
		CreatedAt:     time.Now(),
	}
}

func routedContent(routeType string, dcs ...routing.ConnectorSpec) *queue.RoutedDeliverSmContent {
	pf, dc := uint8(1), uint8(8)
	return &queue.RoutedDeliverSmContent{
		Version:               queue.ContentVersion,
		MessageID:             "mo-1",
		SourceConnectorID:     "smppc_1",
		RouteType:             routeType,
		DestinationConnectors: dcs,
		PDU: &smpphelper.PDU{
			CommandID:       "deliver_sm",
			SourceAddr:      "33612345678",
			DestinationAddr: "1234",
			ShortMessage:    []byte("hi"),
			PriorityFlag:    &pf,
			DataCoding:      &dc,
		},
	}
}

func httpSpec(cid, baseURL, method string) routing.ConnectorSpec {
	return routing.ConnectorSpec{Type: routing.ConnectorHTTP, CID: cid, BaseURL: baseURL, Method: method}
}

func TestDLRArgs(t *testing.T) {
	args := DLRArgs(dlrContent("http://x", "POST", 1))
	assert.Equal(t, url.Values{"id": {"msg-1"}, "level": {"1"}, "message_status": {"DELIVRD"}}, args)

	args = DLRArgs(dlrContent("http://x", "POST", 2))
	assert.Equal(t, "2", args.Get("level"))
	assert.Equal(t, "abc123", args.Get("id_smsc"))
	assert.Equal(t, "2401011201", args.Get("donedate"))
	assert.Equal(t, "hello", args.Get("text"))
	assert.Len(t, args, 10)
}

func TestDeliverSmArgs(t *testing.T) {
	c := routedContent(queue.RouteTypeSimple, httpSpec("http_1", "http://x", "POST"))
	args, err := DeliverSmArgs(c)
	require.NoError(t, err)
	assert.Equal(t, "hi", args.Get("content"))
	assert.Equal(t, "6869", args.Get("binary"))
	assert.Equal(t, "smppc_1", args.Get("origin-connector"))
	assert.Equal(t, "1", args.Get("priority"))
	assert.Equal(t, "8", args.Get("coding"))
	assert.False(t, args.Has("validity"))

	c.PDU.ShortMessage = []byte{}
	c.PDU.MessagePayload = []byte("payload")
	args, err = DeliverSmArgs(c)
	require.NoError(t, err)
	assert.Equal(t, "payload", args.Get("content"))

	c.PDU.ShortMessage, c.PDU.MessagePayload = nil, nil
	_, err = DeliverSmArgs(c)
	assert.ErrorIs(t, err, errNoContent)
}

func TestThrowDLR(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, nil)
			e := newEndpoint(t, ack)

			f.publish(t, queue.DLRThrowerKey("http"), dlrContent(e.srv.URL+"/dlr", method, 2))

			require.Eventually(t, func() bool { return f.stats.API().Count(stats.DLRThrownCount) == 1 }, waitFor, tick)
			assert.EqualValues(t, 1, e.hits.Load())
			r, form := e.request(0)
			assert.Equal(t, method, r.Method)
			assert.Equal(t, "/dlr", r.URL.Path)
			assert.Equal(t, "text/plain", r.Header.Get("Accept"))
			assert.Equal(t, "msg-1", form.Get("id"))
			assert.Equal(t, "DELIVRD", form.Get("message_status"))
			assert.Equal(t, "abc123", form.Get("id_smsc"))
			if method == http.MethodGet {
				assert.Equal(t, "msg-1", r.URL.Query().Get("id"))
			}
			assert.Zero(t, f.broker.Len(DLRQueue))
		})
	}
}

func TestThrowDLRRetriesThenPurges(t *testing.T) {
	f := newFixture(t, nil)
	e := newEndpoint(t, func(_ int32, w http.ResponseWriter) { _, _ = io.WriteString(w, "KO") })

	f.publish(t, queue.DLRThrowerKey("http"), dlrContent(e.srv.URL, "POST", 1))

	// first attempt plus MaxRetries requeues
	require.Eventually(t, func() bool { return e.hits.Load() == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return f.stats.API().Count(stats.DLRThrowErrorCount) == 3 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, e.hits.Load())
	assert.Zero(t, f.stats.API().Count(stats.DLRThrownCount))
	assert.False(t, f.thrower.dlrRetrials.Has("msg-1"))
}

func TestThrowDLRNotFoundIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	e := newEndpoint(t, func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusNotFound) })

	f.publish(t, queue.DLRThrowerKey("http"), dlrContent(e.srv.URL, "GET", 1))

	require.Eventually(t, func() bool { return f.stats.API().Count(stats.DLRThrowErrorCount) == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, e.hits.Load())
}

func TestThrowDeliverSmSimpleRetriesUntilAck(t *testing.T) {
	f := newFixture(t, nil)
	e := newEndpoint(t, func(n int32, w http.ResponseWriter) {
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		ack(n, w)
	})

	f.publish(t, queue.DeliverSmThrowerKey("http"), routedContent(queue.RouteTypeSimple, httpSpec("http_1", e.srv.URL+"/mo", "POST")))

	require.Eventually(t, func() bool { return f.stats.API().Count(stats.DeliverSmThrownCount) == 1 }, waitFor, tick)
	assert.EqualValues(t, 2, e.hits.Load())
	assert.EqualValues(t, 1, f.stats.API().Count(stats.DeliverSmThrowErrorCount))
	r, form := e.request(1)
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
	assert.Equal(t, "mo-1", form.Get("id"))
	assert.Equal(t, "33612345678", form.Get("from"))
	assert.Equal(t, "1234", form.Get("to"))
	assert.Equal(t, "hi", form.Get("content"))
	assert.False(t, f.thrower.deliverRetrials.Has("mo-1"))
}

func TestThrowDeliverSmFailover(t *testing.T) {
	f := newFixture(t, nil)
	down := newEndpoint(t, func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) })
	up := newEndpoint(t, ack)
	unused := newEndpoint(t, ack)

	f.publish(t, queue.DeliverSmThrowerKey("http"), routedContent(queue.RouteTypeFailover,
		httpSpec("http_1", down.srv.URL, "POST"),
		httpSpec("http_2", up.srv.URL, "GET"),
		httpSpec("http_3", unused.srv.URL, "POST"),
	))

	require.Eventually(t, func() bool { return f.stats.API().Count(stats.DeliverSmThrownCount) == 1 }, waitFor, tick)
	assert.EqualValues(t, 1, down.hits.Load())
	assert.EqualValues(t, 1, up.hits.Load())
	assert.Zero(t, unused.hits.Load())
	r, _ := up.request(0)
	assert.Equal(t, "6869", r.URL.Query().Get("binary"))
}

func TestThrowDeliverSmFailoverAllFailed(t *testing.T) {
	f := newFixture(t, nil)
	down := newEndpoint(t, func(_ int32, w http.ResponseWriter) { _, _ = io.WriteString(w, "KO") })

	f.publish(t, queue.DeliverSmThrowerKey("http"), routedContent(queue.RouteTypeFailover,
		httpSpec("http_1", down.srv.URL+"/a", "POST"),
		httpSpec("http_2", down.srv.URL+"/b", "POST"),
	))

	require.Eventually(t, func() bool { return f.stats.API().Count(stats.DeliverSmThrowErrorCount) == 2 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, down.hits.Load(), "failover routes are not retried")
}

func TestOpenCircuitSkipsEndpoint(t *testing.T) {
	f := newFixture(t, func(c *config.ThrowerConfig) {
		c.MaxRetries = 0
		c.BreakerThreshold = 1
		c.BreakerCooldown = time.Hour
	})
	e := newEndpoint(t, func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) })

	f.publish(t, queue.DeliverSmThrowerKey("http"), routedContent(queue.RouteTypeFailover,
		httpSpec("http_1", e.srv.URL, "POST"),
		httpSpec("http_2", e.srv.URL, "POST"),
	))

	require.Eventually(t, func() bool { return f.stats.API().Count(stats.DeliverSmThrowErrorCount) == 2 }, waitFor, tick)
	assert.EqualValues(t, 1, e.hits.Load())
	assert.Equal(t, CircuitOpen, f.thrower.breaker(e.srv.URL).State())
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	require.True(t, cb.AllowRequest())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	now = now.Add(time.Minute)
	assert.True(t, cb.AllowRequest(), "one trial after the cooldown")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Minute)
	require.True(t, cb.AllowRequest())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.AllowRequest())
}

func TestDisabledBreakerNeverOpens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	for range 10 {
		cb.RecordFailure()
	}
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, CircuitClosed, cb.State())
}
