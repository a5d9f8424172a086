// Package thrower performs the final HTTP hand-off of delivery receipts and
// routed MO messages consumed from the messaging exchange.
package thrower

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/stats"
)

// Thrower queues and consumer tags.
const (
	DLRQueue       = "dlr_thrower.http"
	DLRTag         = "DLRThrower-http"
	DeliverSmQueue = "deliver_sm_thrower.http"
	DeliverSmTag   = "deliverSmThrower-http"
)

// AckBody is the only response body accepted as an acknowledgement.
const AckBody = "ACK/Jasmin"

const userAgent = "AegisRouter/1.0"

var (
	ErrNotAcknowledged = errors.New("destination end did not acknowledge receipt")
	ErrEndpointGone    = errors.New("404 Not Found")
	ErrCircuitOpen     = errors.New("circuit open for endpoint")
)

type Options struct {
	Config config.ThrowerConfig
	Broker queue.Broker
	Stats  *stats.Registry
	// Client defaults to an http.Client with Config.Timeout.
	Client *http.Client
	Logger *slog.Logger
}

type consumer struct {
	queue, pattern, tag string
	handle              func(ctx context.Context, d queue.Delivery)

	cancel context.CancelFunc
	done   chan struct{}
}

// Thrower consumes dlr_thrower.http and deliver_sm_thrower.http.
type Thrower struct {
	opts   Options
	logger *slog.Logger
	client *http.Client

	// per message id throw attempts, dropped once the message is acked or rejected
	dlrRetrials     cmap.ConcurrentMap[string, int]
	deliverRetrials cmap.ConcurrentMap[string, int]
	breakers        cmap.ConcurrentMap[string, *CircuitBreaker]

	mu        sync.Mutex
	consumers []*consumer
	requeues  sync.WaitGroup
	stopCtx   context.Context
	stopAll   context.CancelFunc
}

func New(opts Options) *Thrower {
	if opts.Broker == nil {
		panic("thrower needs a broker")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewRegistry()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Config.Timeout}
	}
	stopCtx, stopAll := context.WithCancel(context.Background())
	return &Thrower{
		opts:            opts,
		logger:          opts.Logger,
		client:          client,
		dlrRetrials:     cmap.New[int](),
		deliverRetrials: cmap.New[int](),
		breakers:        cmap.New[*CircuitBreaker](),
		stopCtx:         stopCtx,
		stopAll:         stopAll,
	}
}

// Start declares the thrower queues and consumes them until Stop.
func (t *Thrower) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.consumers) > 0 {
		return nil
	}
	list := []*consumer{
		{queue: DLRQueue, pattern: queue.DLRThrowerKey("http"), tag: DLRTag, handle: t.handleDLR},
		{queue: DeliverSmQueue, pattern: queue.DeliverSmThrowerKey("http"), tag: DeliverSmTag, handle: t.handleDeliverSm},
	}
	for _, c := range list {
		if err := t.startConsumer(ctx, c); err != nil {
			t.stopConsumers(t.consumers)
			t.consumers = nil
			return err
		}
		t.consumers = append(t.consumers, c)
	}
	return nil
}

func (t *Thrower) startConsumer(ctx context.Context, c *consumer) error {
	if err := t.opts.Broker.DeclareQueue(ctx, c.queue, queue.ExchangeMessaging, c.pattern); err != nil {
		return fmt.Errorf("declare %s: %w", c.queue, err)
	}
	runCtx, cancel := context.WithCancel(t.stopCtx)
	deliveries, err := t.opts.Broker.Consume(runCtx, c.queue, c.tag)
	if err != nil {
		cancel()
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		qctx := logging.ContextWithQueue(runCtx, c.queue)
		for d := range deliveries {
			c.handle(qctx, d)
		}
		if runCtx.Err() == nil {
			t.logger.WarnContext(qctx, "Thrower consumer closed by the broker", slog.String("tag", c.tag))
		}
	}()
	t.logger.InfoContext(ctx, "Thrower is consuming", slog.String("queue", c.queue), slog.String("routing_key", c.pattern))
	return nil
}

// Stop cancels the consumers, then requeues the messages waiting for a retry.
// A stopped Thrower is not restarted.
func (t *Thrower) Stop() {
	t.mu.Lock()
	list := t.consumers
	t.consumers = nil
	t.mu.Unlock()
	t.stopConsumers(list)
	t.stopAll()
	t.requeues.Wait()
}

func (t *Thrower) stopConsumers(list []*consumer) {
	for _, c := range list {
		if err := t.opts.Broker.Cancel(c.tag); err != nil && !errors.Is(err, queue.ErrClosed) {
			t.logger.Warn("Cannot cancel thrower consumer", slog.String("tag", c.tag), slog.Any("error", err))
		}
		c.cancel()
		<-c.done
	}
}

// requeueLater rejects d with requeue once the retry delay elapses or the thrower stops.
func (t *Thrower) requeueLater(ctx context.Context, d queue.Delivery) {
	t.requeues.Add(1)
	go func() {
		defer t.requeues.Done()
		timer := time.NewTimer(t.opts.Config.RetryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.stopCtx.Done():
		}
		if err := d.Reject(true); err != nil {
			t.logger.WarnContext(ctx, "Cannot requeue message", slog.Any("error", err))
		}
	}()
}

func (t *Thrower) ack(ctx context.Context, d queue.Delivery) {
	if err := d.Ack(); err != nil {
		t.logger.ErrorContext(ctx, "Cannot ack message", slog.Any("error", err))
	}
}

func (t *Thrower) reject(ctx context.Context, d queue.Delivery) {
	if err := d.Reject(false); err != nil {
		t.logger.ErrorContext(ctx, "Cannot reject message", slog.Any("error", err))
	}
}

// retry decides what happens to a message whose throw failed: requeued after
// the retry delay while attempts remain, dropped otherwise or when the
// endpoint answered 404.
func (t *Thrower) retry(ctx context.Context, d queue.Delivery, retrials cmap.ConcurrentMap[string, int], msgID string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		t.requeueLater(ctx, d)
		return
	}
	tries := retrials.Upsert(msgID, 1, func(exist bool, v, n int) int {
		if exist {
			return v + 1
		}
		return n
	})
	switch {
	case errors.Is(err, ErrEndpointGone):
		retrials.Remove(msgID)
		t.logger.WarnContext(ctx, "Message is no more processed after a 404 from the endpoint")
		t.reject(ctx, d)
	case tries <= t.opts.Config.MaxRetries:
		t.logger.DebugContext(ctx, "Requeuing message", slog.Int("try_count", tries))
		t.requeueLater(ctx, d)
	default:
		retrials.Remove(msgID)
		t.logger.WarnContext(ctx, "Message purged from queue", slog.Int("try_count", tries))
		t.reject(ctx, d)
	}
}

func (t *Thrower) breaker(endpoint string) *CircuitBreaker {
	return t.breakers.Upsert(endpoint, nil, func(exist bool, v, _ *CircuitBreaker) *CircuitBreaker {
		if exist {
			return v
		}
		return NewCircuitBreaker(BreakerConfig{
			FailureThreshold: t.opts.Config.BreakerThreshold,
			Cooldown:         t.opts.Config.BreakerCooldown,
			Logger:           t.logger,
			Endpoint:         endpoint,
		})
	})
}

// throw calls endpoint with the urlencoded args: in the query for GET, as the
// body otherwise. The endpoint must answer AckBody.
func (t *Thrower) throw(ctx context.Context, method, endpoint string, args url.Values) error {
	cb := t.breaker(endpoint)
	if !cb.AllowRequest() {
		return fmt.Errorf("%w %s", ErrCircuitOpen, endpoint)
	}
	err := t.do(ctx, method, endpoint, args)
	if err != nil && !errors.Is(err, ErrNotAcknowledged) && !errors.Is(err, ErrEndpointGone) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

func (t *Thrower) do(ctx context.Context, method, endpoint string, args url.Values) error {
	method = strings.ToUpper(method)
	encoded := args.Encode()
	var body io.Reader
	target := endpoint
	if method == http.MethodGet {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target += sep + encoded
	} else {
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrEndpointGone
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("endpoint answered %s", resp.Status)
	case strings.TrimSpace(string(respBody)) != AckBody:
		return fmt.Errorf("%w: got %q", ErrNotAcknowledged, truncate(string(respBody), 64))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
