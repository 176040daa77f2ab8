package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// Exchanges — имена обменников.
const (
	// ExchangeEvents — topic exchange событий выполнения.
	// Routing key: execution.<event_type>, например execution.step_completed.
	ExchangeEvents Exchange = "cascade.events"
)

// Queues — имена очередей.
const (
	// QueueEventsAll — очередь со всеми событиями выполнений
	// для внешних интеграций (журналирование, нотификации).
	QueueEventsAll Queue = "events.all"
)

// RoutingKeyPrefix — префикс ключей маршрутизации событий.
const RoutingKeyPrefix = "execution."

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents), // name
			"topic",                // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		_, err = ch.QueueDeclare(
			string(QueueEventsAll), // name
			true,                   // durable
			false,                  // delete when unused
			false,                  // exclusive
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueEventsAll, err)
		}

		err = ch.QueueBind(
			string(QueueEventsAll),
			RoutingKeyPrefix+"#",
			string(ExchangeEvents),
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueEventsAll, ExchangeEvents, err)
		}

		return nil
	})
}
