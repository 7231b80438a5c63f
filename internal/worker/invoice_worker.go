package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/averix/go-order-api/internal/model"
	"github.com/averix/go-order-api/internal/service"
)

const (
	invoiceQueueName = "invoices"
	dlxExchange      = "invoices.dlx"
	dlqQueueName     = "invoices.dlq"
	consumerTag      = "invoice-worker"
	idempotencyTTL   = 24 * time.Hour
)

// PaymentRequester is the slice of the order service the worker drives.
// RequestPayment is idempotent, so message redelivery is harmless.
type PaymentRequester interface {
	RequestPayment(ctx context.Context, orderID uuid.UUID) (*model.Order, error)
}

// InvoiceWorker consumes checkout messages and obtains a gateway invoice
// for each new order, off the request path.
type InvoiceWorker struct {
	channel     *amqp.Channel
	orders      PaymentRequester
	redisClient *redis.Client
	log         *slog.Logger
	done        chan struct{}
}

func NewInvoiceWorker(ch *amqp.Channel, orders PaymentRequester, redisClient *redis.Client, log *slog.Logger) *InvoiceWorker {
	return &InvoiceWorker{
		channel:     ch,
		orders:      orders,
		redisClient: redisClient,
		log:         log,
		done:        make(chan struct{}),
	}
}

// SetupRabbitMQ declares the invoice queue with its dead-letter pair and
// caps unacked deliveries at prefetch. Failed messages are routed through
// dlxExchange into the DLQ for inspection.
func SetupRabbitMQ(ch *amqp.Channel, prefetch int) error {
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqQueueName, invoiceQueueName, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": invoiceQueueName,
	}
	if _, err := ch.QueueDeclare(invoiceQueueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare invoice queue: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	return nil
}

// Start consumes the invoice queue until the context is cancelled or Stop
// is called. Deliveries are acked manually in processMessage.
func (w *InvoiceWorker) Start(ctx context.Context) error {
	msgs, err := w.channel.Consume(invoiceQueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go w.consume(ctx, msgs)

	w.log.Info("invoice worker started", "queue", invoiceQueueName)
	return nil
}

func (w *InvoiceWorker) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			w.processMessage(ctx, msg)
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the consumer so the broker stops delivering, then signals
// the consume loop to drain out.
func (w *InvoiceWorker) Stop() {
	_ = w.channel.Cancel(consumerTag, false)
	close(w.done)
}

func (w *InvoiceWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	var invoiceMsg model.InvoiceMessage
	if err := json.Unmarshal(msg.Body, &invoiceMsg); err != nil {
		w.log.Error("unmarshal invoice message", "error", err)
		_ = msg.Nack(false, false)
		return
	}

	log := w.log.With("order_id", invoiceMsg.OrderID, "user_id", invoiceMsg.UserID)

	// Idempotency check via Redis
	idempotencyKey := "invoice_requested:" + invoiceMsg.OrderID.String()
	exists, err := w.redisClient.Exists(ctx, idempotencyKey).Result()
	if err != nil {
		log.Error("check idempotency key", "error", err)
		_ = msg.Nack(false, true)
		return
	}
	if exists > 0 {
		log.Info("invoice already requested, skipping")
		_ = msg.Ack(false)
		return
	}

	if _, err := w.orders.RequestPayment(ctx, invoiceMsg.OrderID); err != nil {
		var transitionErr *service.InvalidTransitionError
		if errors.As(err, &transitionErr) || errors.Is(err, service.ErrOrderNotFound) {
			// Order was paid or cancelled before we got here; nothing to do.
			log.Info("invoice no longer needed", "reason", err)
			_ = msg.Ack(false)
			return
		}
		log.Error("request invoice failed", "error", err)
		_ = msg.Nack(false, false) // → DLQ
		return
	}

	if err := w.redisClient.Set(ctx, idempotencyKey, "1", idempotencyTTL).Err(); err != nil {
		log.Error("set idempotency key", "error", err)
	}

	_ = msg.Ack(false)
	log.Info("invoice requested successfully")
}
