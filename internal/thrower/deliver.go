package thrower

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
)

var errNoContent = errors.New("deliver_sm has no content")

// DeliverSmArgs builds the MO arguments. Content is short_message, or
// message_payload when short_message is empty; binary is its hex form.
func DeliverSmArgs(c *queue.RoutedDeliverSmContent) (url.Values, error) {
	p := c.PDU
	var content []byte
	switch {
	case len(p.ShortMessage) > 0:
		content = p.ShortMessage
	case p.MessagePayload != nil:
		content = p.MessagePayload
	case p.ShortMessage != nil:
		content = p.ShortMessage
	default:
		return nil, errNoContent
	}

	args := url.Values{}
	args.Set("id", c.MessageID)
	args.Set("from", p.SourceAddr)
	args.Set("to", p.DestinationAddr)
	args.Set("origin-connector", c.SourceConnectorID)
	args.Set("content", string(content))
	args.Set("binary", hex.EncodeToString(content))
	if p.PriorityFlag != nil {
		args.Set("priority", strconv.Itoa(int(*p.PriorityFlag)))
	}
	if p.DataCoding != nil {
		args.Set("coding", strconv.Itoa(int(*p.DataCoding)))
	}
	if p.ValidityPeriod != nil {
		args.Set("validity", *p.ValidityPeriod)
	}
	return args, nil
}

// handleDeliverSm throws to the single connector of a simple route, retrying
// later on failure. Failover routes walk their connectors once, in order,
// until one acknowledges.
func (t *Thrower) handleDeliverSm(ctx context.Context, d queue.Delivery) {
	var c queue.RoutedDeliverSmContent
	if err := queue.Decode(d.Message().Body, &c); err != nil {
		t.logger.ErrorContext(ctx, "Invalid routed deliver_sm content", slog.Any("error", err))
		t.reject(ctx, d)
		return
	}
	ctx = logging.ContextWithMessageID(ctx, c.MessageID)

	if dc := c.DestinationConnectors[0]; dc.Type != routing.ConnectorHTTP {
		t.logger.ErrorContext(ctx, "Destination connector is not http, dropped", slog.String("type", string(dc.Type)))
		t.reject(ctx, d)
		return
	}
	args, err := DeliverSmArgs(&c)
	if err != nil {
		t.logger.ErrorContext(ctx, "Cannot build deliver_sm arguments", slog.Any("error", err))
		t.reject(ctx, d)
		return
	}

	dcs := c.DestinationConnectors
	if c.RouteType == queue.RouteTypeSimple {
		dcs = dcs[:1]
	}
	var lastErr error
	for i, dc := range dcs {
		dctx := logging.ContextWithConnectorID(ctx, dc.CID)
		err := t.throw(dctx, dc.Method, dc.BaseURL, args)
		if err == nil {
			t.deliverRetrials.Remove(c.MessageID)
			t.ack(dctx, d)
			t.opts.Stats.API().Inc(stats.DeliverSmThrownCount)
			t.logger.InfoContext(dctx, "deliver_sm thrown",
				slog.String("route_type", c.RouteType),
				slog.Int("try", i+1),
				slog.Int("connectors", len(dcs)),
				slog.String("url", dc.BaseURL))
			return
		}
		lastErr = err
		t.opts.Stats.API().Inc(stats.DeliverSmThrowErrorCount)
		t.logger.ErrorContext(dctx, "Throwing deliver_sm failed",
			slog.String("route_type", c.RouteType),
			slog.Int("try", i+1),
			slog.Int("connectors", len(dcs)),
			slog.String("url", dc.BaseURL),
			slog.Any("error", err))
	}

	if c.RouteType == queue.RouteTypeSimple {
		t.retry(ctx, d, t.deliverRetrials, c.MessageID, lastErr)
		return
	}
	t.logger.WarnContext(ctx, "deliver_sm is no more processed, every failover connector failed", slog.Any("error", lastErr))
	t.reject(ctx, d)
}
