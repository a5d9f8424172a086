package smppclient

import (
	"context"
	"testing"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/dlr"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/internal/store"
	"github.com/thrillee/aegisrouter/pkg/codes"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

type managerFixture struct {
	m      *Manager
	binder *fakeBinder
	broker *queue.MemoryBroker
	store  *dlr.MemoryStore
}

func newManagerFixture(t *testing.T, b *fakeBinder, backend store.Backend) *managerFixture {
	t.Helper()
	broker := queue.NewMemoryBroker()
	ds := dlr.NewMemoryStore()
	m := NewManager(ManagerOptions{
		Connector: ConnectorOptions{
			Binder:              b,
			Logger:              discardLogger(),
			LongContentMaxParts: 5,
			LongContentSplit:    SplitSAR,
		},
		Broker:       broker,
		Lookup:       dlr.NewLookup(ds, broker),
		DLRStore:     ds,
		Backend:      backend,
		RestartDelay: 10 * time.Millisecond,
		Logger:       discardLogger(),
	})
	t.Cleanup(func() {
		m.StopAll(context.Background())
		_ = broker.Close()
	})
	return &managerFixture{m: m, binder: b, broker: broker, store: ds}
}

func testClientConfig(t *testing.T, cid string) *ClientConfig {
	t.Helper()
	cfg, err := NewClientConfig(cid)
	require.NoError(t, err)
	cfg.ReconnectOnConnectionLossDelay = 10 * time.Millisecond
	cfg.ReconnectOnConnectionFailureDelay = 10 * time.Millisecond
	cfg.RequeueDelay = 20 * time.Millisecond
	return cfg
}

// startBound adds cid, starts it and waits for the bind.
func (f *managerFixture) startBound(t *testing.T, cid string) *Connector {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.m.Add(ctx, testClientConfig(t, cid)))
	require.NoError(t, f.m.Start(ctx, cid))
	c, err := f.m.Connector(cid)
	require.NoError(t, err)
	waitBound(t, c, codes.SessionBoundTRX)
	return c
}

// collect declares a queue bound to pattern and returns what lands in it.
func collect(t *testing.T, b *queue.MemoryBroker, name, exchange, pattern string) <-chan queue.Message {
	t.Helper()
	require.NoError(t, b.DeclareQueue(context.Background(), name, exchange, pattern))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	deliveries, err := b.Consume(ctx, name, "test-"+name)
	require.NoError(t, err)
	out := make(chan queue.Message, 64)
	go func() {
		for d := range deliveries {
			_ = d.Ack()
			out <- d.Message()
		}
	}()
	return out
}

func receive(t *testing.T, ch <-chan queue.Message) queue.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message received")
		return queue.Message{}
	}
}

func expectNone(t *testing.T, ch <-chan queue.Message, d time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %s", msg.Body)
	case <-time.After(d):
	}
}

func submitContent(t *testing.T, c *Connector, text string) *queue.SubmitSmContent {
	t.Helper()
	p, err := c.Factory().BuildSubmit(SubmitRequest{DestinationAddr: "33600000000", ShortMessage: []byte(text)})
	require.NoError(t, err)
	return &queue.SubmitSmContent{
		UID:             "user_1",
		ConnectorID:     c.ID(),
		SourceConnector: queue.SourceHTTPAPI,
		PDU:             p,
	}
}

// ============================================================================
// Connector administration
// ============================================================================

func TestManagerAddRemove(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	ctx := context.Background()

	require.NoError(t, f.m.Add(ctx, testClientConfig(t, "smsc_02")))
	require.NoError(t, f.m.Add(ctx, testClientConfig(t, "smsc_01")))
	assert.ErrorIs(t, f.m.Add(ctx, testClientConfig(t, "smsc_01")), ErrConnectorExists)

	list := f.m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "smsc_01", list[0].ID)
	assert.Equal(t, codes.ServiceStopped, list[0].ServiceStatus)

	require.NoError(t, f.m.Remove(ctx, "smsc_01"))
	assert.False(t, f.m.Has("smsc_01"))
	assert.ErrorIs(t, f.m.Remove(ctx, "smsc_01"), ErrConnectorNotFound)
	assert.ErrorIs(t, f.m.Start(ctx, "smsc_01"), ErrConnectorNotFound)
	_, err := f.m.Details("smsc_01")
	assert.ErrorIs(t, err, ErrConnectorNotFound)
}

func TestManagerStartStop(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	ctx := context.Background()
	f.startBound(t, "smsc_01")

	assert.ErrorIs(t, f.m.Start(ctx, "smsc_01"), ErrAlreadyStarted)
	status, err := f.m.ServiceStatus("smsc_01")
	require.NoError(t, err)
	assert.Equal(t, codes.ServiceStarted, status)

	require.NoError(t, f.m.Stop(ctx, "smsc_01"))
	assert.ErrorIs(t, f.m.Stop(ctx, "smsc_01"), ErrAlreadyStopped)
	state, err := f.m.SessionState("smsc_01")
	require.NoError(t, err)
	assert.Equal(t, codes.SessionUnbound, state)

	// the listener consumer tag is released on stop
	f.startBound(t, "smsc_02")
	require.NoError(t, f.m.Start(ctx, "smsc_01"))
}

func TestManagerUpdateWithoutRestart(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	c := f.startBound(t, "smsc_01")

	res, err := f.m.UpdateConfig(context.Background(), "smsc_01", map[string]string{"submit_throughput": "5", "requeue_delay": "30"})
	require.NoError(t, err)
	assert.False(t, res.Restart)
	assert.Nil(t, res.Status)
	assert.ElementsMatch(t, []ConfigKey{KeySubmitSmThroughput, KeyRequeueDelay}, res.Keys)

	cfg := c.Config()
	assert.Equal(t, float64(5), cfg.SubmitSmThroughput)
	assert.Equal(t, 30*time.Second, cfg.RequeueDelay)
	assert.Equal(t, int64(1), c.Stats().Count(stats.StartCount))
}

func TestManagerUpdateIsAllOrNothing(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	require.NoError(t, f.m.Add(context.Background(), testClientConfig(t, "smsc_01")))

	_, err := f.m.UpdateConfig(context.Background(), "smsc_01", map[string]string{"port": "2800", "bind": "nonsense"})
	assert.True(t, IsConfigError(err, UnknownValue))
	cfg, err := f.m.Details("smsc_01")
	require.NoError(t, err)
	assert.Equal(t, 2775, cfg.Port)
	assert.Equal(t, BindTransceiver, cfg.Bind)
}

func TestManagerUpdateRestartsBoundConnector(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	c := f.startBound(t, "smsc_01")

	res, err := f.m.UpdateConfig(context.Background(), "smsc_01", map[string]string{"log_level": "debug"})
	require.NoError(t, err)
	require.True(t, res.Restart)
	require.NotNil(t, res.Status)

	var lines []string
	for line := range res.Status {
		lines = append(lines, line)
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, codes.UpdateRestarting, lines[0])
	assert.Equal(t, codes.UpdateSucceeded, lines[len(lines)-1])

	assert.Equal(t, codes.ServiceStarted, c.ServiceStatus())
	waitBound(t, c, codes.SessionBoundTRX)
	assert.Equal(t, int64(2), c.Stats().Count(stats.StartCount))
	assert.Equal(t, "debug", c.Config().LogLevel)
	assert.Equal(t, 2, f.binder.Binds())
}

func TestManagerUpdateStoppedConnectorDoesNotRestart(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	require.NoError(t, f.m.Add(context.Background(), testClientConfig(t, "smsc_01")))

	res, err := f.m.UpdateConfig(context.Background(), "smsc_01", map[string]string{"host": "10.0.0.1"})
	require.NoError(t, err)
	assert.False(t, res.Restart)
	status, _ := f.m.ServiceStatus("smsc_01")
	assert.Equal(t, codes.ServiceStopped, status)
}

// ============================================================================
// Submit flow
// ============================================================================

func TestManagerSubmitRequiresStartedConnector(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	require.NoError(t, f.m.Add(context.Background(), testClientConfig(t, "smsc_01")))
	c, err := f.m.Connector("smsc_01")
	require.NoError(t, err)

	_, err = f.m.Submit(context.Background(), submitContent(t, c, "hello"))
	assert.ErrorIs(t, err, ErrConnectorStopped)

	other := submitContent(t, c, "hello")
	other.ConnectorID = "unknown"
	_, err = f.m.Submit(context.Background(), other)
	assert.ErrorIs(t, err, ErrConnectorNotFound)
}

func TestSubmitPublishesRespAndBill(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	resps := collect(t, f.broker, "test.resps", queue.ExchangeMessaging, "submit.sm.resp.*")
	bills := collect(t, f.broker, "test.bills", queue.ExchangeBilling, "bill_request.submit_sm_resp.*")
	c := f.startBound(t, "smsc_01")

	content := submitContent(t, c, "hello")
	content.Bill = routing.NewSubmitSmBill("user_1")
	require.NoError(t, content.Bill.SetAmount(routing.AmountSubmitSmResp, decimal.RequireFromString("0.25")))

	msgID, err := f.m.Submit(context.Background(), content)
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	var resp queue.SubmitSmRespContent
	require.NoError(t, queue.Decode(receive(t, resps).Body, &resp))
	assert.Equal(t, msgID, resp.MessageID)
	assert.Equal(t, "smsc_01", resp.ConnectorID)
	assert.Equal(t, "ESME_ROK", resp.Status)
	assert.Equal(t, "smsc-1", resp.SMSCMessageID)

	var bill queue.SubmitSmRespBillContent
	require.NoError(t, queue.Decode(receive(t, bills).Body, &bill))
	assert.Equal(t, "user_1", bill.UID)
	assert.True(t, decimal.RequireFromString("0.25").Equal(bill.Amount))

	sent := f.binder.last().Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("hello"), sent[0].ShortMessage)
}

func TestSubmitWithoutChargeIsNotBilled(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	resps := collect(t, f.broker, "test.resps", queue.ExchangeMessaging, "submit.sm.resp.*")
	bills := collect(t, f.broker, "test.bills", queue.ExchangeBilling, "bill_request.submit_sm_resp.*")
	c := f.startBound(t, "smsc_01")

	content := submitContent(t, c, "hello")
	content.Bill = routing.NewSubmitSmBill("user_1")
	_, err := f.m.Submit(context.Background(), content)
	require.NoError(t, err)

	receive(t, resps)
	expectNone(t, bills, 50*time.Millisecond)
}

func TestSubmitLongContentPublishesOneRespPerSegment(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	resps := collect(t, f.broker, "test.resps", queue.ExchangeMessaging, "submit.sm.resp.*")
	c := f.startBound(t, "smsc_01")

	text := make([]byte, 600)
	for i := range text {
		text[i] = 'a' + byte(i%26)
	}
	_, err := f.m.Submit(context.Background(), submitContent(t, c, string(text)))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		var resp queue.SubmitSmRespContent
		require.NoError(t, queue.Decode(receive(t, resps).Body, &resp))
		assert.Equal(t, "ESME_ROK", resp.Status)
	}
	assert.Len(t, f.binder.last().Submitted(), 3)
}

func TestSubmitRequeuedUntilBound(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{failures: -1}, nil)
	resps := collect(t, f.broker, "test.resps", queue.ExchangeMessaging, "submit.sm.resp.*")
	ctx := context.Background()
	require.NoError(t, f.m.Add(ctx, testClientConfig(t, "smsc_01")))
	require.NoError(t, f.m.Start(ctx, "smsc_01"))
	c, err := f.m.Connector("smsc_01")
	require.NoError(t, err)

	msgID, err := f.m.Submit(ctx, submitContent(t, c, "queued"))
	require.NoError(t, err)
	expectNone(t, resps, 80*time.Millisecond)

	f.binder.setFailures(0)
	var resp queue.SubmitSmRespContent
	require.NoError(t, queue.Decode(receive(t, resps).Body, &resp))
	assert.Equal(t, msgID, resp.MessageID)
	assert.Equal(t, "ESME_ROK", resp.Status)
}

func TestSubmitRequeuedWhileThrottled(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{status: data.ESME_RTHROTTLED}, nil)
	resps := collect(t, f.broker, "test.resps", queue.ExchangeMessaging, "submit.sm.resp.*")
	c := f.startBound(t, "smsc_01")

	_, err := f.m.Submit(context.Background(), submitContent(t, c, "slow down"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.binder.last().Submitted()) >= 2 }, waitFor, tick)
	expectNone(t, resps, 10*time.Millisecond)

	f.binder.setResponse(data.ESME_ROK, false)
	var resp queue.SubmitSmRespContent
	require.NoError(t, queue.Decode(receive(t, resps).Body, &resp))
	assert.Equal(t, "ESME_ROK", resp.Status)
	assert.GreaterOrEqual(t, c.Stats().Count(stats.ThrottlingErrorCount), int64(2))
}

func TestSubmitExpiredIsDropped(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	c := f.startBound(t, "smsc_01")

	content := submitContent(t, c, "too late")
	past := time.Now().Add(-time.Minute)
	content.Expiration = &past
	_, err := f.m.Submit(context.Background(), content)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.broker.Len(queue.SubmitSmQueue("smsc_01")) == 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.binder.last().Submitted())
}

func TestSubmitReceiptIsThrown(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	dlrs := collect(t, f.broker, "test.dlrs", queue.ExchangeMessaging, "dlr_thrower.*")
	c := f.startBound(t, "smsc_01")

	content := submitContent(t, c, "with receipt")
	content.DLR = &queue.DLRRequest{Level: 3, URL: "http://127.0.0.1/dlr", Method: "POST"}
	msgID, err := f.m.Submit(context.Background(), content)
	require.NoError(t, err)

	var ack queue.DLRContent
	require.NoError(t, queue.Decode(receive(t, dlrs).Body, &ack))
	assert.Equal(t, msgID, ack.MessageID)
	assert.Equal(t, 1, ack.Level)
	assert.Equal(t, "ESME_ROK", ack.MessageStatus)
	require.Eventually(t, func() bool {
		_, err := f.store.GetSMSCMapping(context.Background(), "SMSC-1")
		return err == nil
	}, waitFor, tick)

	f.binder.last().events.Deliver(&smpphelper.PDU{
		CommandID:    smpphelper.CommandDeliverSm,
		EsmClass:     smpphelper.Ptr(smpphelper.EsmClassSMSCReceipt),
		ShortMessage: []byte("id:smsc-1 sub:001 dlvrd:001 submit date:2403011020 done date:2403011021 stat:DELIVRD err:000 text:"),
	})

	var receipt queue.DLRContent
	require.NoError(t, queue.Decode(receive(t, dlrs).Body, &receipt))
	assert.Equal(t, msgID, receipt.MessageID)
	assert.Equal(t, 2, receipt.Level)
	assert.Equal(t, "DELIVRD", receipt.MessageStatus)
	assert.Equal(t, "smsc_01", receipt.ConnectorID)
	assert.Equal(t, "001", receipt.Dlvrd)
	assert.Equal(t, int64(1), c.Stats().Count(stats.DeliverSmCount))
}

// ============================================================================
// MO
// ============================================================================

func decodeDeliver(t *testing.T, msg queue.Message) queue.DeliverSmContent {
	t.Helper()
	var c queue.DeliverSmContent
	require.NoError(t, queue.Decode(msg.Body, &c))
	return c
}

func TestDeliverIsPublished(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	mos := collect(t, f.broker, "test.mos", queue.ExchangeMessaging, "deliver.sm.*")
	f.startBound(t, "smsc_01")

	f.binder.last().events.Deliver(&smpphelper.PDU{
		CommandID:       smpphelper.CommandDeliverSm,
		SourceAddr:      "33600000000",
		DestinationAddr: "1234",
		ShortMessage:    []byte("hello gateway"),
	})

	mo := decodeDeliver(t, receive(t, mos))
	assert.Equal(t, "smsc_01", mo.ConnectorID)
	assert.Equal(t, []byte("hello gateway"), mo.PDU.ShortMessage)
	assert.False(t, mo.Concatenated)
	assert.False(t, mo.WillBeConcatenated)
}

func TestLongDeliverWithSARIsReassembled(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	mos := collect(t, f.broker, "test.mos", queue.ExchangeMessaging, "deliver.sm.*")
	f.startBound(t, "smsc_01")
	events := f.binder.last().events

	part := func(seq uint8, text string) *smpphelper.PDU {
		return &smpphelper.PDU{
			CommandID:        smpphelper.CommandDeliverSm,
			SourceAddr:       "33600000000",
			DestinationAddr:  "1234",
			ShortMessage:     []byte(text),
			SarMsgRefNum:     smpphelper.Ptr(uint16(77)),
			SarTotalSegments: smpphelper.Ptr(uint8(2)),
			SarSegmentSeqnum: smpphelper.Ptr(seq),
		}
	}
	// parts may arrive out of order
	events.Deliver(part(2, " world"))
	events.Deliver(part(1, "hello"))

	first, second := decodeDeliver(t, receive(t, mos)), decodeDeliver(t, receive(t, mos))
	assert.True(t, first.WillBeConcatenated)
	assert.True(t, second.WillBeConcatenated)

	full := decodeDeliver(t, receive(t, mos))
	assert.True(t, full.Concatenated)
	assert.False(t, full.WillBeConcatenated)
	assert.Equal(t, "hello world", string(full.PDU.ShortMessage))
	assert.Nil(t, full.PDU.SarMsgRefNum)
	assert.Empty(t, f.store.Keys())
}

func TestLongDeliverWithUDHIsReassembled(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	mos := collect(t, f.broker, "test.mos", queue.ExchangeMessaging, "deliver.sm.*")
	f.startBound(t, "smsc_01")
	events := f.binder.last().events

	for seq, text := range []string{"bonjour ", "le ", "monde"} {
		body := append(smpphelper.EncodeConcatUDH(9, 3, uint8(seq+1)), text...)
		events.Deliver(&smpphelper.PDU{
			CommandID:       smpphelper.CommandDeliverSm,
			SourceAddr:      "33600000000",
			DestinationAddr: "1234",
			EsmClass:        smpphelper.Ptr(smpphelper.EsmClassUDHIndicator),
			ShortMessage:    body,
		})
	}
	for i := 0; i < 3; i++ {
		assert.True(t, decodeDeliver(t, receive(t, mos)).WillBeConcatenated)
	}
	full := decodeDeliver(t, receive(t, mos))
	assert.True(t, full.Concatenated)
	assert.Equal(t, "bonjour le monde", string(full.PDU.ShortMessage))
	assert.False(t, full.PDU.HasUDH())
}

// ============================================================================
// Persistence
// ============================================================================

func TestManagerPersistAndLoad(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	f := newManagerFixture(t, &fakeBinder{}, backend)
	f.startBound(t, "smsc_01")
	cfg := testClientConfig(t, "smsc_02")
	cfg.Port = 2800
	require.NoError(t, f.m.Add(ctx, cfg))
	assert.False(t, f.m.IsPersisted())

	require.NoError(t, f.m.Persist(ctx, "default"))
	assert.True(t, f.m.IsPersisted())

	g := newManagerFixture(t, &fakeBinder{}, backend)
	require.NoError(t, g.m.Load(ctx, "default"))
	assert.True(t, g.m.IsPersisted())

	list := g.m.List()
	require.Len(t, list, 2)
	assert.Equal(t, codes.ServiceStarted, list[0].ServiceStatus)
	assert.Equal(t, codes.ServiceStopped, list[1].ServiceStatus)
	details, err := g.m.Details("smsc_02")
	require.NoError(t, err)
	assert.Equal(t, 2800, details.Port)

	c, err := g.m.Connector("smsc_01")
	require.NoError(t, err)
	waitBound(t, c, codes.SessionBoundTRX)
}

func TestManagerPersistWithoutBackend(t *testing.T) {
	f := newManagerFixture(t, &fakeBinder{}, nil)
	assert.ErrorIs(t, f.m.Persist(context.Background(), "default"), ErrNoBackend)
	assert.ErrorIs(t, f.m.Load(context.Background(), "default"), ErrNoBackend)
}
