package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cascade/internal/events"
)

// publishTimeout — таймаут публикации одного события.
// Relay вызывается синхронно из цикла выполнения, зависший брокер
// не должен останавливать pipeline дольше, чем на этот интервал.
const publishTimeout = 5 * time.Second

// Relay транслирует события выполнений в RabbitMQ.
//
// Реализует events.Sink: оркестратор доставляет события синхронно
// и в порядке Seq, поэтому сообщения в брокере сохраняют порядок
// событий внутри одного выполнения.
type Relay struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRelay создаёт новый Relay.
func NewRelay(conn *Connection, logger *slog.Logger) *Relay {
	return &Relay{
		conn:   conn,
		logger: logger,
	}
}

// Deliver публикует событие в exchange cascade.events.
// Routing key: execution.<тип события>.
func (r *Relay) Deliver(event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	routingKey := RoutingKeyPrefix + string(event.Type)

	err = r.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(
			ctx,
			string(ExchangeEvents),
			routingKey,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    fmt.Sprintf("%s-%d", event.ExecutionID, event.Seq),
				Timestamp:    event.Timestamp,
				Body:         body,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", ExchangeEvents, routingKey, err)
	}

	r.logger.Debug("relayed event",
		"execution_id", event.ExecutionID,
		"type", event.Type,
		"seq", event.Seq,
	)

	return nil
}
