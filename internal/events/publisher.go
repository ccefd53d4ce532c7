package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	minRedialDelay = time.Second
	maxRedialDelay = 30 * time.Second
)

// ErrPublisherUnavailable is returned while the broker connection is down.
var ErrPublisherUnavailable = errors.New("event publisher is not connected")

// Publisher forwards serialized events to an external feed.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// RoutingKey is the topic key an event is published under.
func RoutingKey(t EventType) string {
	return "ticket." + string(t)
}

// RabbitPublisher publishes JSON events to a RabbitMQ topic exchange. A
// dropped connection is redialed in the background; publishes made while it
// is down fail fast with ErrPublisherUnavailable.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	url      string
	exchange string
	logger   *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRabbitPublisher connects to RabbitMQ and declares a durable topic
// exchange.
func NewRabbitPublisher(url, exchange string, logger *zap.Logger) (*RabbitPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RabbitPublisher{url: url, exchange: exchange, logger: logger, done: make(chan struct{})}
	conn, ch, err := p.connect()
	if err != nil {
		return nil, err
	}
	p.conn, p.channel = conn, ch
	go p.watch(conn)
	logger.Info("connected to rabbitmq", zap.String("exchange", exchange))
	return p, nil
}

func (p *RabbitPublisher) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// watch waits for conn to drop and redials until a new connection is up or
// the publisher is closed.
func (p *RabbitPublisher) watch(conn *amqp.Connection) {
	for {
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-p.done:
			return
		case amqpErr := <-closed:
			if amqpErr == nil {
				return
			}
			p.logger.Warn("rabbitmq connection lost", zap.Error(amqpErr))
		}

		p.mu.Lock()
		p.conn, p.channel = nil, nil
		p.mu.Unlock()

		next, ok := p.redial()
		if !ok {
			return
		}
		conn = next
	}
}

func (p *RabbitPublisher) redial() (*amqp.Connection, bool) {
	delay := minRedialDelay
	for {
		select {
		case <-p.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, ch, err := p.connect()
		if err != nil {
			p.logger.Warn("rabbitmq redial failed", zap.Error(err), zap.Duration("retry_in", nextRedialDelay(delay)))
			delay = nextRedialDelay(delay)
			continue
		}

		p.mu.Lock()
		select {
		case <-p.done:
			p.mu.Unlock()
			_ = conn.Close()
			return nil, false
		default:
		}
		p.conn, p.channel = conn, ch
		p.mu.Unlock()
		p.logger.Info("reconnected to rabbitmq", zap.String("exchange", p.exchange))
		return conn, true
	}
}

func nextRedialDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxRedialDelay {
		return maxRedialDelay
	}
	return d
}

// Publish serializes the payload to JSON and sends it to the exchange,
// waiting at most publishTimeout for the broker.
// amqp channels are not safe for concurrent publishing.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return ErrPublisherUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close stops reconnecting and terminates the connection. It is safe to call
// more than once.
func (p *RabbitPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		if p.done != nil {
			close(p.done)
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ch := p.conn, p.channel
	p.conn, p.channel = nil, nil
	if ch != nil {
		if err := ch.Close(); err != nil {
			p.logger.Warn("close amqp channel", zap.Error(err))
		}
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}
