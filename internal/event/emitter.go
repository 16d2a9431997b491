package event

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the bus the engine fans successful transitions out to.
// Delivery is at-least-once; consumers are expected to dedupe.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emitter publishes lifecycle events to a durable RabbitMQ topic
// exchange, one message per transition, routed by event kind.
type Emitter struct {
	channel  *amqp.Channel
	exchange string
}

func NewEmitter(conn *amqp.Connection, exchange string) (*Emitter, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Emitter{channel: ch, exchange: exchange}, nil
}

var _ Publisher = (*Emitter)(nil)

func (e *Emitter) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	err = e.channel.PublishWithContext(ctx,
		e.exchange,
		string(ev.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	return errors.Wrap(err, "publish event")
}
