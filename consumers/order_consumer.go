package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"booth-pos/models"
)

var ErrMalformedEvent = errors.New("malformed order event")

// OrderExpirer is the slice of the order service the consumer needs.
type OrderExpirer interface {
	ExpireOrder(ctx context.Context, id string) (bool, error)
}

type OrderConsumer struct {
	ch      *amqp.Channel
	queue   string
	dlq     string
	expirer OrderExpirer
	log     logrus.FieldLogger
}

func NewOrderConsumer(ch *amqp.Channel, queue, deadLetterQueue string, expirer OrderExpirer, log logrus.FieldLogger) *OrderConsumer {
	return &OrderConsumer{
		ch:      ch,
		queue:   queue,
		dlq:     deadLetterQueue,
		expirer: expirer,
		log:     log.WithField("component", "order_consumer"),
	}
}

// Start consumes the order queue and the dead letter queue until ctx is
// cancelled or the broker closes the channel.
func (c *OrderConsumer) Start(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "booth-pos", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	dlqMsgs, err := c.ch.Consume(c.dlq, "booth-pos-dlq", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.dlq, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("order queue channel closed")
			}
			c.processOrderMessage(ctx, msg)
		case msg, ok := <-dlqMsgs:
			if !ok {
				return errors.New("dead letter channel closed")
			}
			c.log.WithField("body", string(msg.Body)).Warn("received dead letter")
			_ = msg.Ack(false)
		}
	}
}

func (c *OrderConsumer) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("recovered from panic in message processing")
			_ = msg.Nack(false, false)
		}
	}()

	err := c.Handle(ctx, msg.Body)
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, ErrMalformedEvent):
		c.log.WithError(err).Warn("rejecting message")
		_ = msg.Nack(false, false)
	default:
		// One redelivery, then the dead letter queue.
		c.log.WithError(err).WithField("redelivered", msg.Redelivered).Error("failed to handle order event")
		_ = msg.Nack(false, !msg.Redelivered)
	}
}

// Handle decodes one message body and acts on it.
func (c *OrderConsumer) Handle(ctx context.Context, body []byte) error {
	event, err := DecodeEvent(body)
	if err != nil {
		return err
	}
	log := c.log.WithFields(logrus.Fields{"order_id": event.OrderID, "event": event.Type})

	switch event.Type {
	case models.EventPaymentCheck:
		expired, err := c.expirer.ExpireOrder(ctx, event.OrderID)
		if err != nil {
			return fmt.Errorf("payment check %s: %w", event.OrderID, err)
		}
		log.WithField("expired", expired).Info("payment check done")
	case models.EventCreated, models.EventPaid, models.EventReady, models.EventCompleted, models.EventCancelled:
		log.Info("order event")
	default:
		log.Warn("unknown event type")
	}
	return nil
}

func DecodeEvent(body []byte) (models.OrderEvent, error) {
	var event models.OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.OrderID == "" || event.Type == "" {
		return event, fmt.Errorf("%w: order_id and type are required", ErrMalformedEvent)
	}
	return event, nil
}
