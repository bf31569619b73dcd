package events

import (
	"context"
	"encoding/json"
	"time"

	"zkdpp/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher publishes events as persistent JSON messages to a topic exchange.
// Queue topology belongs to the consumers.
type RabbitPublisher struct {
	Conn       *amqp.Connection
	Channel    *amqp.Channel
	Exchange   string
	RoutingKey string
}

func NewRabbitPublisher(amqpURL, exchange, routingKey string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitPublisher{
		Conn:       conn,
		Channel:    ch,
		Exchange:   exchange,
		RoutingKey: routingKey,
	}, nil
}

func (r *RabbitPublisher) Name() string { return "amqp" }

func (r *RabbitPublisher) Publish(ctx context.Context, event domain.VerificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.Channel.PublishWithContext(ctx,
		r.Exchange,
		r.RoutingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ReceiptID.String(),
			Type:         "verification.completed",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

func (r *RabbitPublisher) Close() {
	r.Channel.Close()
	r.Conn.Close()
}
