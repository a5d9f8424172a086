package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/logging"
)

// New returns the broker selected by cfg.URL; "memory://" gives an in-process broker.
func New(ctx context.Context, cfg config.AMQPConfig) (Broker, error) {
	if strings.HasPrefix(cfg.URL, "memory://") {
		slog.InfoContext(ctx, "Using in-memory queue broker")
		return NewMemoryBroker(), nil
	}
	return DialAMQP(ctx, cfg)
}

// AMQPBroker talks to RabbitMQ. A lost connection is redialed every ReconnectDelay;
// consumers resubscribe on the new connection.
type AMQPBroker struct {
	url            string
	reconnectDelay time.Duration
	prefetch       int

	mu        sync.Mutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	ready     chan struct{} // closed while a connection is usable
	consumers map[string]context.CancelFunc
	closed    bool
	done      chan struct{}
}

var _ Broker = (*AMQPBroker)(nil)

// DialAMQP connects, retrying until ctx is done, and declares both exchanges.
func DialAMQP(ctx context.Context, cfg config.AMQPConfig) (*AMQPBroker, error) {
	b := &AMQPBroker{
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay,
		prefetch:       cfg.Prefetch,
		consumers:      make(map[string]context.CancelFunc),
		done:           make(chan struct{}),
		ready:          make(chan struct{}),
	}
	if b.reconnectDelay <= 0 {
		b.reconnectDelay = 10 * time.Second
	}
	if b.prefetch <= 0 {
		b.prefetch = 1
	}

	notify, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	go b.handleReconnect(notify)
	return b, nil
}

func (b *AMQPBroker) connect(ctx context.Context) (chan *amqp.Error, error) {
	for {
		notify, err := b.dial()
		if err == nil {
			return notify, nil
		}
		slog.ErrorContext(ctx, "Failed to connect to AMQP broker, retrying", slog.Any("error", err), slog.Duration("delay", b.reconnectDelay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrClosed
		case <-time.After(b.reconnectDelay):
		}
	}
}

func (b *AMQPBroker) dial() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	for _, ex := range []string{ExchangeMessaging, ExchangeBilling} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	b.mu.Lock()
	b.conn, b.pubCh = conn, ch
	close(b.ready)
	b.mu.Unlock()
	slog.Info("Connected to AMQP broker")
	return notify, nil
}

func (b *AMQPBroker) handleReconnect(notify chan *amqp.Error) {
	for {
		select {
		case <-b.done:
			return
		case amqpErr, ok := <-notify:
			if !ok && amqpErr == nil {
				// Closed by us or the server without an error frame.
				select {
				case <-b.done:
					return
				default:
				}
			}
			slog.Warn("AMQP connection lost, reconnecting", slog.Any("error", amqpErr))
			b.mu.Lock()
			b.ready = make(chan struct{})
			b.mu.Unlock()

			next, err := b.connect(context.Background())
			if err != nil {
				return
			}
			notify = next
		}
	}
}

// waitReady blocks until a connection is up and returns it.
func (b *AMQPBroker) waitReady(ctx context.Context) (*amqp.Connection, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		ready, conn := b.ready, b.conn
		b.mu.Unlock()

		select {
		case <-ready:
			if !conn.IsClosed() {
				return conn, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrClosed
		}
	}
}

func (b *AMQPBroker) withChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	conn, err := b.waitReady(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	return fn(ch)
}

func (b *AMQPBroker) DeclareQueue(ctx context.Context, queue, exchange, pattern string) error {
	if err := validName("queue", queue); err != nil {
		return err
	}
	return b.withChannel(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, pattern, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s/%s: %w", queue, exchange, pattern, err)
		}
		return nil
	})
}

func (b *AMQPBroker) DeleteQueue(ctx context.Context, queue string) error {
	return b.withChannel(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
			return fmt.Errorf("delete queue %s: %w", queue, err)
		}
		return nil
	})
}

func (b *AMQPBroker) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	if _, err := b.waitReady(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Priority:     msg.Priority,
		Headers:      amqp.Table(msg.Headers),
		Timestamp:    time.Now(),
		Body:         msg.Body,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("publish %s/%s: %w", exchange, routingKey, ErrClosed)
		}
		return fmt.Errorf("publish %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := b.consumers[tag]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("consumer tag %s already in use", tag)
	}
	cctx, cancel := context.WithCancel(ctx)
	b.consumers[tag] = cancel
	b.mu.Unlock()

	out := make(chan Delivery)
	go b.consumeLoop(cctx, queue, tag, out)
	return out, nil
}

// consumeLoop resubscribes after connection loss until cancelled.
func (b *AMQPBroker) consumeLoop(ctx context.Context, queue, tag string, out chan<- Delivery) {
	defer close(out)
	defer b.forget(tag)
	ctx = logging.ContextWithQueue(ctx, queue)

	for {
		err := b.consumeOnce(ctx, queue, tag, out)
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return
		}
		slog.WarnContext(ctx, "Consumer interrupted, resubscribing", slog.String("tag", tag), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.reconnectDelay):
		}
	}
}

func (b *AMQPBroker) consumeOnce(ctx context.Context, queue, tag string, out chan<- Delivery) error {
	conn, err := b.waitReady(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	slog.InfoContext(ctx, "Consuming queue", slog.String("tag", tag))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			select {
			case out <- &amqpDelivery{d: d}:
			case <-ctx.Done():
				_ = d.Reject(true)
				_ = ch.Cancel(tag, false)
				return ctx.Err()
			}
		}
	}
}

func (b *AMQPBroker) forget(tag string) {
	b.mu.Lock()
	delete(b.consumers, tag)
	b.mu.Unlock()
}

func (b *AMQPBroker) Cancel(tag string) error {
	b.mu.Lock()
	cancel, ok := b.consumers[tag]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no consumer with tag %s", tag)
	}
	cancel()
	return nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	close(b.done)
	for _, cancel := range b.consumers {
		cancel()
	}
	conn := b.conn
	b.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) RoutingKey() string { return a.d.RoutingKey }

func (a *amqpDelivery) Message() Message {
	return Message{
		MessageID:   a.d.MessageId,
		ContentType: a.d.ContentType,
		Priority:    a.d.Priority,
		Headers:     map[string]any(a.d.Headers),
		Body:        a.d.Body,
	}
}

func (a *amqpDelivery) Ack() error { return a.d.Ack(false) }

func (a *amqpDelivery) Reject(requeue bool) error { return a.d.Reject(requeue) }
