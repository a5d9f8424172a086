// Package queue is the message broker boundary: topic exchanges, named
// queues, publish and manual-ack consumption.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Exchanges.
const (
	ExchangeMessaging = "messaging"
	ExchangeBilling   = "billing"
)

var (
	ErrClosed       = errors.New("queue broker closed")
	ErrUnknownQueue = errors.New("unknown queue")
)

// Message is what gets published.
type Message struct {
	MessageID   string
	ContentType string
	Priority    uint8
	Headers     map[string]any
	Body        []byte
}

// Delivery is one consumed message. Every delivery must be acked or rejected exactly once.
type Delivery interface {
	RoutingKey() string
	Message() Message
	Ack() error
	Reject(requeue bool) error
}

// Broker publishes to exchanges and consumes from named queues.
type Broker interface {
	// DeclareQueue declares a durable queue and binds it to exchange with pattern.
	DeclareQueue(ctx context.Context, queue, exchange, pattern string) error
	DeleteQueue(ctx context.Context, queue string) error
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	// Consume delivers from queue until ctx is done, Cancel(tag) is called or the broker closes.
	Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error)
	Cancel(tag string) error
	Close() error
}

// Routing keys.
func SubmitSmKey(cid string) string       { return "submit.sm." + cid }
func SubmitSmQueue(cid string) string     { return "submit.sm." + cid }
func SubmitSmRespKey(cid string) string   { return "submit.sm.resp." + cid }
func DeliverSmKey(cid string) string      { return "deliver.sm." + cid }
func DeliverSmThrowerKey(t string) string { return "deliver_sm_thrower." + t }
func DLRThrowerKey(t string) string       { return "dlr_thrower." + t }
func BillRequestSubmitSmRespKey(uid string) string {
	return "bill_request.submit_sm_resp." + uid
}

// TopicMatches implements AMQP topic matching: '*' is exactly one word, '#' zero or more.
func TopicMatches(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case "#":
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchWords(p[1:], k[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(k) == 0 {
				return false
			}
		default:
			if len(k) == 0 || k[0] != p[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}

func validName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty %s name", kind)
	}
	return nil
}
