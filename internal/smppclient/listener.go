package smppclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/aegisrouter/internal/dlr"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/pkg/errormapper"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

// ConsumerTag is the tag of the submit_sm consumer of a connector.
func ConsumerTag(cid string) string { return "SMPPClientFactory-" + cid }

// Listener moves submit_sm from the connector queue to the SMSC and MO
// traffic from the SMSC to the broker.
type Listener struct {
	conn   *Connector
	broker queue.Broker
	lookup *dlr.Lookup
	store  dlr.Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// requeues are delayed rejections still waiting for their delay.
	requeues sync.WaitGroup
}

// NewListener wires conn to broker. lookup and store may be nil when
// receipts are not tracked.
func NewListener(conn *Connector, broker queue.Broker, lookup *dlr.Lookup, store dlr.Store, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{conn: conn, broker: broker, lookup: lookup, store: store, logger: logger, now: time.Now}
	conn.SetDeliverHandler(l.handleDeliver)
	return l
}

// Start declares the connector submit queue and consumes it.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}
	cid := l.conn.ID()
	q := queue.SubmitSmQueue(cid)
	if err := l.broker.DeclareQueue(ctx, q, queue.ExchangeMessaging, queue.SubmitSmKey(cid)); err != nil {
		return fmt.Errorf("declare %s: %w", q, err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	deliveries, err := l.broker.Consume(runCtx, q, ConsumerTag(cid))
	if err != nil {
		cancel()
		return fmt.Errorf("consume %s: %w", q, err)
	}
	l.cancel = cancel
	l.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		qctx := logging.ContextWithQueue(logging.ContextWithConnectorID(runCtx, cid), q)
		for d := range deliveries {
			l.handleSubmit(qctx, d)
		}
	}(l.done)

	l.logger.InfoContext(ctx, "Submit listener started", slog.String("queue", q), slog.String("cid", cid))
	return nil
}

// Stop cancels the consumer. Messages waiting for a delayed requeue are requeued at once.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	_ = l.broker.Cancel(ConsumerTag(l.conn.ID()))
	cancel()
	<-done
	l.requeues.Wait()
}

// requeueLater rejects d with requeue once delay elapses or the listener stops.
func (l *Listener) requeueLater(ctx context.Context, d queue.Delivery, delay time.Duration) {
	l.requeues.Add(1)
	go func() {
		defer l.requeues.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		if err := d.Reject(true); err != nil {
			l.logger.WarnContext(ctx, "Cannot requeue message", slog.Any("error", err))
		}
	}()
}

func (l *Listener) handleSubmit(ctx context.Context, d queue.Delivery) {
	var c queue.SubmitSmContent
	if err := queue.Decode(d.Message().Body, &c); err != nil {
		l.logger.ErrorContext(ctx, "Invalid submit_sm content, dropped", slog.Any("error", err))
		_ = d.Reject(false)
		return
	}
	ctx = logging.ContextWithMessageID(ctx, c.MessageID)
	if c.UID != "" {
		ctx = logging.ContextWithUserID(ctx, c.UID)
	}
	cfg := l.conn.Config()

	if c.Expired(l.now()) {
		l.logger.WarnContext(ctx, "submit_sm expired before being sent, dropped")
		_ = d.Reject(false)
		return
	}
	if !l.conn.CanSubmit() {
		l.logger.InfoContext(ctx, "Connector not bound, requeuing",
			slog.String("state", l.conn.SessionState()), slog.Duration("delay", cfg.RequeueDelay))
		l.requeueLater(ctx, d, cfg.RequeueDelay)
		return
	}

	results, err := l.conn.SubmitPDU(ctx, c.PDU)
	if err != nil {
		if errors.Is(err, ErrNotBound) || errors.Is(err, ErrSubmitTimeout) || errors.Is(err, context.Canceled) {
			l.logger.WarnContext(ctx, "submit_sm not acknowledged, requeuing", slog.Any("error", err))
			l.requeueLater(ctx, d, cfg.RequeueDelay)
			return
		}
		l.logger.ErrorContext(ctx, "submit_sm failed, dropped", slog.Any("error", err))
		_ = d.Reject(false)
		return
	}
	last := results[len(results)-1]
	if last.Err != nil {
		l.logger.WarnContext(ctx, "submit_sm not acknowledged, requeuing", slog.Any("error", last.Err))
		l.requeueLater(ctx, d, cfg.RequeueDelay)
		return
	}
	if errormapper.IsThrottling(last.Status) {
		l.logger.WarnContext(ctx, "SMSC is throttling, requeuing", slog.Duration("delay", cfg.RequeueDelay))
		l.requeueLater(ctx, d, cfg.RequeueDelay)
		return
	}
	if err := d.Ack(); err != nil {
		l.logger.ErrorContext(ctx, "Ack failed", slog.Any("error", err))
	}

	for _, r := range results {
		l.submitSmResp(ctx, &c, r)
	}
	if last.OK() && c.Bill != nil {
		l.billSubmitSmResp(ctx, &c)
	}
}

func (l *Listener) submitSmResp(ctx context.Context, c *queue.SubmitSmContent, r SubmitResult) {
	status := StatusName(r.Status)
	if r.OK() {
		l.logger.InfoContext(ctx, "SMS-MT sent",
			slog.String("status", status),
			slog.String("smsc_msgid", r.SMSCMessageID),
			slog.String("to", c.PDU.DestinationAddr),
			slog.Duration("latency", r.Latency))
	} else {
		l.logger.WarnContext(ctx, "SMS-MT rejected by SMSC", slog.String("status", status))
	}

	resp := &queue.SubmitSmRespContent{
		Version:       queue.ContentVersion,
		MessageID:     c.MessageID,
		ConnectorID:   c.ConnectorID,
		Status:        status,
		SMSCMessageID: r.SMSCMessageID,
	}
	if msg, err := queue.Encode(resp); err != nil {
		l.logger.ErrorContext(ctx, "Cannot encode submit_sm_resp", slog.Any("error", err))
	} else if err := l.broker.Publish(ctx, queue.ExchangeMessaging, queue.SubmitSmRespKey(c.ConnectorID), msg); err != nil {
		l.logger.ErrorContext(ctx, "Cannot publish submit_sm_resp", slog.Any("error", err))
	}

	if l.lookup == nil {
		return
	}
	err := l.lookup.SubmitSmResp(ctx, c.MessageID, status, r.SMSCMessageID)
	switch {
	case err == nil:
	case dlr.IsNotFound(err):
		l.logger.DebugContext(ctx, "No receipt requested")
	default:
		l.logger.ErrorContext(ctx, "Receipt lookup failed", slog.Any("error", err))
	}
}

func (l *Listener) billSubmitSmResp(ctx context.Context, c *queue.SubmitSmContent) {
	rb := c.Bill.SubmitSmRespBill()
	amount := rb.TotalAmount()
	if !amount.IsPositive() {
		return
	}
	bc := &queue.SubmitSmRespBillContent{Version: queue.ContentVersion, BID: rb.BID, UID: rb.UID, Amount: amount}
	msg, err := queue.Encode(bc)
	if err != nil {
		l.logger.ErrorContext(ctx, "Cannot encode bill request", slog.Any("error", err))
		return
	}
	if err := l.broker.Publish(ctx, queue.ExchangeBilling, queue.BillRequestSubmitSmRespKey(rb.UID), msg); err != nil {
		l.logger.ErrorContext(ctx, "Cannot publish bill request", slog.Any("error", err))
		return
	}
	l.logger.DebugContext(ctx, "Bill request published", slog.String("bid", rb.BID), slog.String("amount", amount.String()))
}

// ============================================================================
// MO
// ============================================================================

func (l *Listener) handleDeliver(ctx context.Context, cid string, p *smpphelper.PDU) {
	if r := ParseReceipt(p); r != nil {
		l.handleReceipt(ctx, cid, r)
		return
	}

	ref, total, seq, ok := segmentInfo(p)
	if !ok {
		l.publishDeliver(ctx, cid, p, false, false)
		return
	}
	if l.store == nil {
		l.logger.WarnContext(ctx, "Cannot reassemble long MO without a dlr store, parts published as is")
		l.publishDeliver(ctx, cid, p, false, false)
		return
	}

	// parts go to smpp server connectors as is, the reassembled message goes to everyone
	l.publishDeliver(ctx, cid, p, false, true)

	key := dlr.LongDeliverKey(cid, ref, p.DestinationAddr)
	if _, err := l.store.AddLongDeliverPart(ctx, key, int(seq), partBody(p)); err != nil {
		l.logger.ErrorContext(ctx, "Cannot store long MO part", slog.String("key", key), slog.Any("error", err))
		return
	}
	parts, err := l.store.LongDeliverParts(ctx, key)
	if err != nil {
		l.logger.ErrorContext(ctx, "Cannot read long MO parts", slog.String("key", key), slog.Any("error", err))
		return
	}
	if len(parts) < int(total) {
		l.logger.DebugContext(ctx, "Long MO part stored", slog.Int("parts", len(parts)), slog.Int("total", int(total)))
		return
	}
	if err := l.store.DeleteLongDeliverParts(ctx, key); err != nil {
		l.logger.WarnContext(ctx, "Cannot delete long MO parts", slog.String("key", key), slog.Any("error", err))
	}
	l.publishDeliver(ctx, cid, reassemble(p, parts), true, false)
}

func (l *Listener) handleReceipt(ctx context.Context, cid string, r *dlr.Receipt) {
	if l.lookup == nil {
		return
	}
	coded := dlr.CodeMessageID(r.ID, l.conn.Config().DLRMsgIDBases)
	err := l.lookup.Receipt(ctx, cid, coded, *r)
	switch {
	case err == nil:
		l.logger.InfoContext(ctx, "Receipt received", slog.String("smsc_msgid", coded), slog.String("stat", r.Stat))
	case dlr.IsNotFound(err):
		l.logger.DebugContext(ctx, "Receipt for an unknown message", slog.String("smsc_msgid", coded))
	default:
		l.logger.ErrorContext(ctx, "Receipt lookup failed", slog.String("smsc_msgid", coded), slog.Any("error", err))
	}
}

func (l *Listener) publishDeliver(ctx context.Context, cid string, p *smpphelper.PDU, concatenated, willBeConcatenated bool) {
	c := &queue.DeliverSmContent{
		Version:            queue.ContentVersion,
		MessageID:          uuid.NewString(),
		ConnectorID:        cid,
		PDU:                p,
		Concatenated:       concatenated,
		WillBeConcatenated: willBeConcatenated,
		ReceivedAt:         l.now(),
	}
	ctx = logging.ContextWithMessageID(ctx, c.MessageID)
	msg, err := queue.Encode(c)
	if err != nil {
		l.logger.ErrorContext(ctx, "Cannot encode deliver_sm", slog.Any("error", err))
		return
	}
	if err := l.broker.Publish(ctx, queue.ExchangeMessaging, queue.DeliverSmKey(cid), msg); err != nil {
		l.logger.ErrorContext(ctx, "Cannot publish deliver_sm", slog.Any("error", err))
		return
	}
	l.logger.InfoContext(ctx, "SMS-MO received",
		slog.String("from", p.SourceAddr),
		slog.String("to", p.DestinationAddr),
		slog.Bool("concatenated", concatenated),
		slog.Bool("will_be_concatenated", willBeConcatenated))
}

// segmentInfo reads the concatenation data of p from SAR TLVs or its UDH.
func segmentInfo(p *smpphelper.PDU) (ref uint16, total, seq uint8, ok bool) {
	if p.SarMsgRefNum != nil && p.SarTotalSegments != nil && p.SarSegmentSeqnum != nil {
		return *p.SarMsgRefNum, *p.SarTotalSegments, *p.SarSegmentSeqnum, true
	}
	if p.HasUDH() {
		if info, found := smpphelper.ParseConcatUDH(p.ShortMessage); found {
			return info.Reference, info.Total, info.Sequence, true
		}
	}
	return 0, 0, 0, false
}

// partBody is the content of one part, UDH removed.
func partBody(p *smpphelper.PDU) []byte {
	body := p.Content()
	if p.HasUDH() && len(p.MessagePayload) == 0 {
		if info, ok := smpphelper.ParseConcatUDH(body); ok {
			return body[info.HeaderLen:]
		}
	}
	return body
}

// reassemble builds the complete MO from the stored parts, using last as a template.
func reassemble(last *smpphelper.PDU, parts map[int][]byte) *smpphelper.PDU {
	seqs := make([]int, 0, len(parts))
	for s := range parts {
		seqs = append(seqs, s)
	}
	sort.Ints(seqs)
	var buf bytes.Buffer
	for _, s := range seqs {
		buf.Write(parts[s])
	}

	p := last.Clone()
	p.Next = nil
	p.SarMsgRefNum, p.SarTotalSegments, p.SarSegmentSeqnum = nil, nil, nil
	p.MoreMessagesToSend = nil
	p.MessagePayload = nil
	if p.EsmClass != nil {
		p.EsmClass = smpphelper.Ptr(*p.EsmClass &^ smpphelper.EsmClassUDHIndicator)
	}
	p.ShortMessage = buf.Bytes()
	return p
}
