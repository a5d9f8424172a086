package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryBroker is an in-process broker with topic exchange semantics.
// Messages published to an exchange with no matching binding are dropped.
type MemoryBroker struct {
	mu        sync.Mutex
	bindings  map[string][]binding // exchange -> bindings
	queues    map[string]*memQueue
	consumers map[string]context.CancelFunc
	closed    bool
	done      chan struct{}
}

type binding struct {
	pattern string
	queue   string
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		bindings:  make(map[string][]binding),
		queues:    make(map[string]*memQueue),
		consumers: make(map[string]context.CancelFunc),
		done:      make(chan struct{}),
	}
}

func (b *MemoryBroker) DeclareQueue(_ context.Context, queue, exchange, pattern string) error {
	if err := validName("queue", queue); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = newMemQueue()
	}
	for _, bd := range b.bindings[exchange] {
		if bd.queue == queue && bd.pattern == pattern {
			return nil
		}
	}
	b.bindings[exchange] = append(b.bindings[exchange], binding{pattern: pattern, queue: queue})
	return nil
}

func (b *MemoryBroker) DeleteQueue(_ context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[queue]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	delete(b.queues, queue)
	for ex, bds := range b.bindings {
		kept := bds[:0]
		for _, bd := range bds {
			if bd.queue != queue {
				kept = append(kept, bd)
			}
		}
		b.bindings[ex] = kept
	}
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, exchange, routingKey string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	seen := make(map[string]bool)
	for _, bd := range b.bindings[exchange] {
		if seen[bd.queue] || !TopicMatches(bd.pattern, routingKey) {
			continue
		}
		seen[bd.queue] = true
		if q, ok := b.queues[bd.queue]; ok {
			q.push(memItem{key: routingKey, msg: msg}, false)
		}
	}
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if _, dup := b.consumers[tag]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("consumer tag %s already in use", tag)
	}
	cctx, cancel := context.WithCancel(ctx)
	b.consumers[tag] = cancel
	b.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.consumers, tag)
			b.mu.Unlock()
		}()
		for {
			item, ok := q.pop()
			if !ok {
				select {
				case <-q.signal:
					continue
				case <-cctx.Done():
					return
				case <-b.done:
					return
				}
			}
			d := &memDelivery{item: item, q: q}
			select {
			case out <- d:
			case <-cctx.Done():
				q.push(item, true)
				return
			case <-b.done:
				return
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) Cancel(tag string) error {
	b.mu.Lock()
	cancel, ok := b.consumers[tag]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no consumer with tag %s", tag)
	}
	cancel()
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	close(b.done)
	return nil
}

// Len returns the number of ready messages in queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type memItem struct {
	key string
	msg Message
}

type memQueue struct {
	mu     sync.Mutex
	items  []memItem
	signal chan struct{}
}

func newMemQueue() *memQueue {
	return &memQueue{signal: make(chan struct{}, 1)}
}

func (q *memQueue) push(it memItem, front bool) {
	q.mu.Lock()
	if front {
		q.items = append([]memItem{it}, q.items...)
	} else {
		q.items = append(q.items, it)
	}
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memQueue) pop() (memItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return memItem{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

var errSettled = errors.New("delivery already acked or rejected")

type memDelivery struct {
	item    memItem
	q       *memQueue
	mu      sync.Mutex
	settled bool
}

func (d *memDelivery) RoutingKey() string { return d.item.key }
func (d *memDelivery) Message() Message   { return d.item.msg }

func (d *memDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return errSettled
	}
	d.settled = true
	return nil
}

func (d *memDelivery) Ack() error { return d.settle() }

func (d *memDelivery) Reject(requeue bool) error {
	if err := d.settle(); err != nil {
		return err
	}
	if requeue {
		d.q.push(d.item, true)
	}
	return nil
}
