// Package rabbit implements the broker side of the ingestion pipeline:
// idempotent topology declaration and confirmed, routed publishing.
package rabbit

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaypoint/notification-gateway/internal/domain"
)

// binding maps a durable queue to the routing key it is bound with on the
// direct exchange. The routing key equals the queue's logical name.
type binding struct {
	Queue      string
	RoutingKey string
}

var queueBindings = []binding{
	{Queue: "email.queue", RoutingKey: string(domain.TypeEmail)},
	{Queue: "push.queue", RoutingKey: string(domain.TypePush)},
	{Queue: "failed.queue", RoutingKey: "failed"},
}

// amqpChannel is the slice of the amqp.Channel API the publisher uses.
type amqpChannel interface {
	IsClosed() bool
	Close() error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Publisher publishes envelopes to a direct exchange through a pool of
// confirm-mode channels over one connection. Pooling lets concurrent
// publishes overlap their confirm round-trips instead of serializing on a
// single shared channel.
//
// The pool never shrinks: every acquire is balanced by exactly one slot going
// back, live, fresh or dead. A dead slot is retried on its next acquire.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	pool     chan amqpChannel
	open     func() (amqpChannel, error)
}

// Dial connects to the broker and opens poolSize confirm-mode channels.
func Dial(url, exchange string, poolSize int) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", domain.ErrBrokerUnavailable, err)
	}

	p, err := newPublisher(func() (amqpChannel, error) {
		return openConfirmChannel(conn)
	}, exchange, poolSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// newPublisher builds the pool with the given channel opener.
func newPublisher(open func() (amqpChannel, error), exchange string, poolSize int) (*Publisher, error) {
	p := &Publisher{
		exchange: exchange,
		pool:     make(chan amqpChannel, poolSize),
		open:     open,
	}
	for i := 0; i < poolSize; i++ {
		ch, err := open()
		if err != nil {
			return nil, err
		}
		p.pool <- ch
	}
	return p, nil
}

func openConfirmChannel(conn *amqp.Connection) (amqpChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", domain.ErrBrokerUnavailable, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: confirm mode: %v", domain.ErrBrokerUnavailable, err)
	}
	return ch, nil
}

// acquire takes a channel from the pool, replacing it if it died while idle.
// When the reopen fails, the dead channel goes back so the slot is not lost;
// the next acquire retries.
func (p *Publisher) acquire(ctx context.Context) (amqpChannel, error) {
	select {
	case ch := <-p.pool:
		if !ch.IsClosed() {
			return ch, nil
		}
		fresh, err := p.open()
		if err != nil {
			p.pool <- ch
			return nil, err
		}
		return fresh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns a channel to the pool. A broken channel is replaced with a
// fresh one; if the connection itself is down the closed channel goes back
// and acquire replaces it later.
func (p *Publisher) release(ch amqpChannel, broken bool) {
	if !broken {
		p.pool <- ch
		return
	}
	ch.Close()
	if fresh, err := p.open(); err == nil {
		p.pool <- fresh
		return
	}
	p.pool <- ch
}

// DeclareTopology declares the direct exchange, the durable queues and their
// bindings. Declarations are idempotent: redeclaring with identical parameters
// is safe and produces no duplicates. Run once at startup.
func (p *Publisher) DeclareTopology() error {
	ch, err := p.acquire(context.Background())
	if err != nil {
		return err
	}

	declare := func() error {
		if err := ch.ExchangeDeclare(p.exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("%w: declare exchange %s: %v", domain.ErrBrokerUnavailable, p.exchange, err)
		}
		for _, b := range queueBindings {
			if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
				return fmt.Errorf("%w: declare queue %s: %v", domain.ErrBrokerUnavailable, b.Queue, err)
			}
			if err := ch.QueueBind(b.Queue, b.RoutingKey, p.exchange, false, nil); err != nil {
				return fmt.Errorf("%w: bind %s to %s: %v", domain.ErrBrokerUnavailable, b.Queue, b.RoutingKey, err)
			}
		}
		return nil
	}

	err = declare()
	p.release(ch, err != nil)
	return err
}

// Publish serializes env and publishes it with the routing key for its type.
// Success means the broker confirmed the message; an unconfirmed publish is a
// failure, never assumed delivered. Failures are not retried here: the caller
// surfaces them and the client may resubmit under the same request_id.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ch, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange,
		string(env.NotificationType),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.NotificationID,
			Timestamp:    env.EnqueuedAt,
			Body:         body,
		},
	)
	if err != nil {
		p.release(ch, true)
		return fmt.Errorf("%w: publish %s: %v", domain.ErrBrokerUnavailable, env.NotificationID, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		p.release(ch, true)
		return fmt.Errorf("%w: confirm %s: %v", domain.ErrBrokerUnavailable, env.NotificationID, err)
	}
	if !acked {
		p.release(ch, false)
		return fmt.Errorf("%w: broker nacked %s", domain.ErrBrokerUnavailable, env.NotificationID)
	}

	p.release(ch, false)
	return nil
}

// Close tears down the connection and all pooled channels.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
