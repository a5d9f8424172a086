package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
)

// Router queues and consumer tags.
const (
	DeliverQueue       = "RouterPB_deliver_sm_all"
	DeliverPattern     = "deliver.sm.*"
	DeliverTag         = "RouterPB-delivers"
	BillRequestQueue   = "RouterPB_bill_request_submit_sm_resp_all"
	BillRequestPattern = "bill_request.submit_sm_resp.*"
	BillRequestTag     = "RouterPB-billrequests"
)

type consumer struct {
	queue, exchange, pattern, tag string
	handle                        func(ctx context.Context, d queue.Delivery)

	cancel context.CancelFunc
	done   chan struct{}
}

// Start declares the router queues and consumes them until Stop.
func (s *Service) Start(ctx context.Context) error {
	if s.opts.Broker == nil {
		return errors.New("router has no broker")
	}
	s.consumerMu.Lock()
	defer s.consumerMu.Unlock()
	if len(s.consumers) > 0 {
		return nil
	}

	list := []*consumer{{
		queue: DeliverQueue, exchange: queue.ExchangeMessaging, pattern: DeliverPattern, tag: DeliverTag,
		handle: s.handleDeliverSm,
	}}
	if s.opts.Config.BillQueueEnabled {
		list = append(list, &consumer{
			queue: BillRequestQueue, exchange: queue.ExchangeBilling, pattern: BillRequestPattern, tag: BillRequestTag,
			handle: s.handleBillRequest,
		})
	}

	for _, c := range list {
		if err := s.startConsumer(ctx, c); err != nil {
			s.stopConsumers(s.consumers)
			s.consumers = nil
			return err
		}
		s.consumers = append(s.consumers, c)
	}
	return nil
}

func (s *Service) startConsumer(ctx context.Context, c *consumer) error {
	if err := s.opts.Broker.DeclareQueue(ctx, c.queue, c.exchange, c.pattern); err != nil {
		return fmt.Errorf("declare %s: %w", c.queue, err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	deliveries, err := s.opts.Broker.Consume(runCtx, c.queue, c.tag)
	if err != nil {
		cancel()
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.cancel = cancel
	c.done = make(chan struct{})

	// one delivery at a time: ack or reject is decided before the next one is read
	go func() {
		defer close(c.done)
		qctx := logging.ContextWithQueue(runCtx, c.queue)
		for d := range deliveries {
			c.handle(qctx, d)
		}
		if runCtx.Err() == nil {
			s.logger.WarnContext(qctx, "Router consumer closed by the broker", slog.String("tag", c.tag))
		}
	}()
	s.logger.InfoContext(ctx, "Router is consuming", slog.String("queue", c.queue), slog.String("routing_key", c.pattern))
	return nil
}

// Stop cancels the router consumers and waits for the message being handled.
func (s *Service) Stop() {
	s.consumerMu.Lock()
	list := s.consumers
	s.consumers = nil
	s.consumerMu.Unlock()
	s.stopConsumers(list)
}

func (s *Service) stopConsumers(list []*consumer) {
	for _, c := range list {
		if err := s.opts.Broker.Cancel(c.tag); err != nil && !errors.Is(err, queue.ErrClosed) {
			s.logger.Warn("Cannot cancel router consumer", slog.String("tag", c.tag), slog.Any("error", err))
		}
		c.cancel()
		<-c.done
	}
}

func (s *Service) reject(ctx context.Context, d queue.Delivery) {
	if err := d.Reject(false); err != nil {
		s.logger.ErrorContext(ctx, "Cannot reject message", slog.Any("error", err))
	}
}

// ============================================================================
// MO routing
// ============================================================================

func (s *Service) handleDeliverSm(ctx context.Context, d queue.Delivery) {
	var c queue.DeliverSmContent
	if err := queue.Decode(d.Message().Body, &c); err != nil {
		s.logger.ErrorContext(ctx, "Invalid deliver_sm content", slog.Any("error", err))
		s.reject(ctx, d)
		return
	}
	ctx = logging.ContextWithConnectorID(logging.ContextWithMessageID(ctx, c.MessageID), c.ConnectorID)

	source, err := routing.NewSmppClientConnector(c.ConnectorID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Invalid deliver_sm source connector", slog.Any("error", err))
		s.reject(ctx, d)
		return
	}
	routable, err := routing.NewRoutableDeliverSm(c.PDU, source)
	if err != nil {
		s.logger.ErrorContext(ctx, "Cannot build MO routable", slog.Any("error", err))
		s.reject(ctx, d)
		return
	}

	res, err := s.GetMORoutes(routable)
	if err != nil {
		s.opts.Stats.API().Inc(stats.NoRouteCount)
		s.logger.InfoContext(ctx, "deliver_sm not routed",
			slog.String("reason", "no_route"),
			slog.String("from", c.PDU.SourceAddr),
			slog.String("to", c.PDU.DestinationAddr))
		s.reject(ctx, d)
		return
	}
	ctx = logging.ContextWithRouteOrder(ctx, res.Order)

	// http connectors take the reassembled message, smpps connectors the parts
	destType := res.Connectors[0].Type()
	switch {
	case c.Concatenated && destType != routing.ConnectorHTTP:
		s.logger.DebugContext(ctx, "Concatenated deliver_sm not routed to a non http connector", slog.String("type", string(destType)))
		s.reject(ctx, d)
		return
	case c.WillBeConcatenated && destType == routing.ConnectorHTTP:
		s.logger.DebugContext(ctx, "deliver_sm part not routed, its concatenation will be")
		s.reject(ctx, d)
		return
	}

	routeType := queue.RouteTypeSimple
	if res.Failover {
		routeType = queue.RouteTypeFailover
	}
	routed := &queue.RoutedDeliverSmContent{
		Version:           queue.ContentVersion,
		MessageID:         c.MessageID,
		SourceConnectorID: c.ConnectorID,
		RouteType:         routeType,
		PDU:               c.PDU,
	}
	for _, dc := range res.Connectors {
		routed.DestinationConnectors = append(routed.DestinationConnectors, routing.SpecOfConnector(dc))
	}
	msg, err := queue.Encode(routed)
	if err != nil {
		s.logger.ErrorContext(ctx, "Cannot encode routed deliver_sm", slog.Any("error", err))
		s.reject(ctx, d)
		return
	}

	if err := d.Ack(); err != nil {
		s.logger.ErrorContext(ctx, "Cannot ack deliver_sm", slog.Any("error", err))
		return
	}
	key := queue.DeliverSmThrowerKey(string(destType))
	if err := s.opts.Broker.Publish(ctx, queue.ExchangeMessaging, key, msg); err != nil {
		s.logger.ErrorContext(ctx, "Cannot publish routed deliver_sm", slog.String("routing_key", key), slog.Any("error", err))
		return
	}
	s.opts.Stats.API().Inc(stats.DeliverSmRoutedCount)
	s.logger.InfoContext(ctx, "deliver_sm routed",
		slog.String("route_type", routeType),
		slog.String("connector", res.Connectors[0].ID()),
		slog.Int("connectors", len(res.Connectors)))
}

// ============================================================================
// Billing
// ============================================================================

func (s *Service) handleBillRequest(ctx context.Context, d queue.Delivery) {
	var c queue.SubmitSmRespBillContent
	if err := queue.Decode(d.Message().Body, &c); err != nil {
		s.logger.ErrorContext(ctx, "Invalid bill request", slog.Any("error", err))
		s.reject(ctx, d)
		return
	}
	s.opts.Stats.API().Inc(stats.BillRequestCount)
	ctx = logging.ContextWithUserID(ctx, c.UID)

	if err := s.chargeSubmitSmResp(ctx, c.UID, c.Amount); err != nil {
		s.opts.Stats.API().Inc(stats.BillRejectedCount)
		s.logger.ErrorContext(ctx, "Bill request rejected, user was not charged",
			slog.String("bid", c.BID),
			slog.String("amount", c.Amount.String()),
			slog.Any("error", err))
		s.reject(ctx, d)
		return
	}
	if err := d.Ack(); err != nil {
		s.logger.ErrorContext(ctx, "Cannot ack bill request", slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, "User charged for submit_sm_resp", slog.String("bid", c.BID), slog.String("amount", c.Amount.String()))
}
