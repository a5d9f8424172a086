package thrower

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/stats"
)

// DLRArgs builds the callback arguments of a receipt. Level 2 and 3 receipts
// carry the SMSC side fields.
func DLRArgs(c *queue.DLRContent) url.Values {
	args := url.Values{}
	args.Set("id", c.MessageID)
	args.Set("level", strconv.Itoa(c.Level))
	args.Set("message_status", c.MessageStatus)
	if c.Level == 2 || c.Level == 3 {
		args.Set("id_smsc", c.SMSCMessageID)
		args.Set("sub", c.Sub)
		args.Set("dlvrd", c.Dlvrd)
		args.Set("subdate", c.SubDate)
		args.Set("donedate", c.DoneDate)
		args.Set("err", c.Err)
		args.Set("text", c.Text)
	}
	return args
}

func (t *Thrower) handleDLR(ctx context.Context, d queue.Delivery) {
	var c queue.DLRContent
	if err := queue.Decode(d.Message().Body, &c); err != nil {
		t.logger.ErrorContext(ctx, "Invalid dlr content", slog.Any("error", err))
		t.reject(ctx, d)
		return
	}
	ctx = logging.ContextWithMessageID(ctx, c.MessageID)
	if c.URL == "" {
		t.logger.ErrorContext(ctx, "Receipt has no callback url, dropped")
		t.reject(ctx, d)
		return
	}
	method := c.Method
	if method == "" {
		method = "POST"
	}

	if err := t.throw(ctx, method, c.URL, DLRArgs(&c)); err != nil {
		t.opts.Stats.API().Inc(stats.DLRThrowErrorCount)
		t.logger.ErrorContext(ctx, "Throwing receipt failed",
			slog.String("url", c.URL),
			slog.Int("level", c.Level),
			slog.Any("error", err))
		t.retry(ctx, d, t.dlrRetrials, c.MessageID, err)
		return
	}
	t.dlrRetrials.Remove(c.MessageID)
	t.ack(ctx, d)
	t.opts.Stats.API().Inc(stats.DLRThrownCount)
	t.logger.InfoContext(ctx, "Receipt thrown",
		slog.String("url", c.URL),
		slog.String("status", c.MessageStatus),
		slog.Int("level", c.Level))
}
