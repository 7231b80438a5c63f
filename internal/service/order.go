package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/averix/go-order-api/internal/dto"
	"github.com/averix/go-order-api/internal/gateway"
	"github.com/averix/go-order-api/internal/model"
	"github.com/averix/go-order-api/internal/repository"
)

var (
	ErrInvalidCart            = errors.New("cart is empty")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderAccessDenied      = errors.New("access denied")
	ErrProductNotFound        = errors.New("product not found")
	ErrProductDiscontinued    = errors.New("product discontinued")
	ErrAddressNotFound        = errors.New("address not found")
	ErrNoCancellationRequest  = errors.New("no cancellation request pending")
	ErrConcurrentModification = errors.New("order was modified concurrently")
)

// errStaleStatus is an internal marker for a failed status CAS inside a
// transaction; callers translate it after re-reading the row.
var errStaleStatus = errors.New("stale order status")

// InsufficientStockError names the offending product so the caller can tell
// the customer what to remove.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// InvalidTransitionError reports an operation applied in a status that does
// not permit it. State is left unchanged.
type InvalidTransitionError struct {
	OrderID uuid.UUID
	From    model.OrderStatus
	Op      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order %s in status %q", e.Op, e.OrderID, e.From)
}

// Actor identifies who performed a state-changing operation, for the audit
// trail.
type Actor struct {
	ID   uuid.UUID
	Role string
}

var SystemActor = Actor{Role: model.RoleSystem}

// paymentSuccessStatuses are the gateway statuses that confirm capture.
var paymentSuccessStatuses = map[string]bool{
	"paid":       true,
	"settlement": true,
	"capture":    true,
}

const invoiceQueueName = "invoices"

type OrderService struct {
	orderRepo   repository.OrderRepository
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditRepository
	payment     gateway.PaymentGateway
	shipping    *ShippingService
	amqpCh      *amqp.Channel
	flatFee     int64
	log         *slog.Logger
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	payment gateway.PaymentGateway,
	shipping *ShippingService,
	amqpCh *amqp.Channel,
	flatFee int64,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		payment:     payment,
		shipping:    shipping,
		amqpCh:      amqpCh,
		flatFee:     flatFee,
		log:         log,
	}
}

// CreateOrder checks out the user's cart: validates stock and availability,
// prices every line with the product's current (possibly discounted) price,
// and persists the order, its item snapshots, and the stock decrements as
// one transaction. Nothing is persisted when validation fails.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, req dto.CheckoutRequest) (*model.Order, error) {
	cart, err := s.cartRepo.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	cartWithItems, err := s.cartRepo.GetCartWithItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	if cartWithItems == nil || len(cartWithItems.Items) == 0 {
		return nil, ErrInvalidCart
	}

	address, err := s.userRepo.GetAddress(ctx, req.AddressID)
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	if address == nil || address.UserID != userID {
		return nil, ErrAddressNotFound
	}

	now := time.Now()
	var (
		subtotal, discount int64
		totalWeight        int
		items              []model.OrderItem
	)
	for _, ci := range cartWithItems.Items {
		product, err := s.productRepo.GetByID(ctx, ci.ProductID)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil {
			return nil, ErrProductNotFound
		}
		if product.Discontinued {
			return nil, fmt.Errorf("%w: %s", ErrProductDiscontinued, product.Name)
		}
		if product.Stock < ci.Quantity {
			return nil, &InsufficientStockError{
				ProductID: product.ID, Name: product.Name,
				Requested: ci.Quantity, Available: product.Stock,
			}
		}

		unit := product.EffectivePrice(now)
		lineSubtotal := unit * int64(ci.Quantity)
		subtotal += product.Price * int64(ci.Quantity)
		discount += (product.Price - unit) * int64(ci.Quantity)
		totalWeight += product.WeightGrams * ci.Quantity

		items = append(items, model.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     unit,
			Quantity:  ci.Quantity,
			Subtotal:  lineSubtotal,
		})
	}

	rate, err := s.shipping.Quote(ctx, address.AreaCode, totalWeight)
	if err != nil {
		return nil, fmt.Errorf("quote shipping: %w", err)
	}

	order := &model.Order{
		Number:          newOrderNumber(now),
		UserID:          userID,
		Status:          model.OrderStatusPending,
		Subtotal:        subtotal,
		Discount:        discount,
		ShippingCost:    rate.Cost,
		Fees:            s.flatFee,
		TotalAmount:     subtotal - discount + rate.Cost + s.flatFee,
		ShippingMethod:  req.ShippingMethod,
		ShippingAddress: address.Snapshot(),
		PaymentMethod:   req.PaymentMethod,
		Items:           items,
	}

	err = s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.orderRepo.CreateWithItems(ctx, tx, order); err != nil {
			return err
		}
		for _, item := range order.Items {
			ok, err := s.productRepo.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				// Someone bought the last unit between validation and here.
				stockErr := &InsufficientStockError{
					ProductID: item.ProductID, Name: item.Name, Requested: item.Quantity,
				}
				if current, err := s.productRepo.GetByID(ctx, item.ProductID); err == nil && current != nil {
					stockErr.Available = current.Stock
				}
				return stockErr
			}
		}
		return s.recordActivity(ctx, tx, Actor{ID: userID, Role: model.RoleCustomer}, "order.create", order.ID, map[string]string{
			"status": string(model.OrderStatusPending),
			"total":  fmt.Sprintf("%d", order.TotalAmount),
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.cartRepo.ClearCart(ctx, cart.ID); err != nil {
		s.log.Error("clear cart after checkout", "cart_id", cart.ID, "error", err)
	}
	s.publishInvoiceRequest(ctx, order)

	return order, nil
}

// RequestPayment obtains a gateway invoice for a pending order. It is
// idempotent: an unexpired invoice is returned as-is rather than creating a
// duplicate at the gateway.
func (s *OrderService) RequestPayment(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != model.OrderStatusPending {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.Status, Op: "request payment for"}
	}
	if order.InvoiceValid(time.Now()) {
		return order, nil
	}

	invoice, err := s.payment.CreateInvoice(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	ok, err := s.orderRepo.SetInvoice(ctx, order.ID, invoice.ID, invoice.URL, invoice.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConcurrentModification
	}

	if err := s.recordActivity(ctx, nil, SystemActor, "payment.invoice_created", order.ID, map[string]string{
		"invoice_id": invoice.ID,
	}); err != nil {
		return nil, err
	}

	order.InvoiceID = invoice.ID
	order.InvoiceURL = invoice.URL
	order.InvoiceExpiresAt = &invoice.ExpiresAt
	return order, nil
}

// ConfirmPayment applies a verified gateway notification. Only a success
// status moves pending to processing; anything else leaves the order
// pending with the failure logged. Repeated or stale callbacks are no-ops,
// keyed on the gateway transaction id.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderNumber, txnID, gatewayStatus string) (*model.Order, error) {
	order, err := s.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Status == model.OrderStatusProcessing && order.PaymentTxnID == txnID {
		s.log.Info("duplicate payment callback ignored", "order", order.Number, "txn_id", txnID)
		return order, nil
	}

	if !paymentSuccessStatuses[gatewayStatus] {
		if order.Status == model.OrderStatusPending {
			s.log.Warn("payment not captured", "order", order.Number, "gateway_status", gatewayStatus)
			if err := s.recordActivity(ctx, nil, SystemActor, "payment.failed", order.ID, map[string]string{
				"gateway_status": gatewayStatus,
				"txn_id":         txnID,
			}); err != nil {
				return nil, err
			}
		}
		return order, nil
	}

	if order.Status != model.OrderStatusPending {
		// Stale success callback for an order that already moved on.
		s.log.Info("stale payment callback ignored", "order", order.Number, "status", order.Status)
		return order, nil
	}

	err = s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.orderRepo.ConfirmPayment(ctx, tx, order.ID, txnID)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleStatus
		}
		return s.recordActivity(ctx, tx, SystemActor, "payment.confirmed", order.ID, map[string]string{
			"from":   string(model.OrderStatusPending),
			"to":     string(model.OrderStatusProcessing),
			"txn_id": txnID,
		})
	})
	if errors.Is(err, errStaleStatus) {
		current, rerr := s.orderRepo.GetByID(ctx, order.ID)
		if rerr != nil {
			return nil, fmt.Errorf("reread order: %w", rerr)
		}
		if current != nil && current.Status == model.OrderStatusProcessing {
			return current, nil
		}
		return nil, ErrConcurrentModification
	}
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatusProcessing
	order.PaymentTxnID = txnID
	return order, nil
}

// MarkShipped assigns the carrier tracking number and moves a processing
// order to shipped.
func (s *OrderService) MarkShipped(ctx context.Context, actor Actor, orderID uuid.UUID, trackingNumber string) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != model.OrderStatusProcessing {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.Status, Op: "ship"}
	}

	err = s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.orderRepo.MarkShipped(ctx, tx, order.ID, trackingNumber)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleStatus
		}
		return s.recordActivity(ctx, tx, actor, "order.ship", order.ID, map[string]string{
			"from":     string(model.OrderStatusProcessing),
			"to":       string(model.OrderStatusShipped),
			"tracking": trackingNumber,
		})
	})
	if errors.Is(err, errStaleStatus) {
		return nil, ErrConcurrentModification
	}
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatusShipped
	order.TrackingNumber = trackingNumber
	return order, nil
}

// MarkCompleted confirms delivery; completed is terminal.
func (s *OrderService) MarkCompleted(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != model.OrderStatusShipped {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.Status, Op: "complete"}
	}

	err = s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.orderRepo.MarkCompleted(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleStatus
		}
		return s.recordActivity(ctx, tx, actor, "order.complete", order.ID, map[string]string{
			"from": string(model.OrderStatusShipped),
			"to":   string(model.OrderStatusCompleted),
		})
	})
	if errors.Is(err, errStaleStatus) {
		return nil, ErrConcurrentModification
	}
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatusCompleted
	return order, nil
}

// RequestCancellation handles a customer cancellation. From pending the
// order is cancelled immediately and stock is released; no payment has been
// captured yet. From processing the request is flagged for admin approval.
// Later statuses reject the request outright.
func (s *OrderService) RequestCancellation(ctx context.Context, userID, orderID uuid.UUID, reason string) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrOrderAccessDenied
	}

	actor := Actor{ID: userID, Role: model.RoleCustomer}

	switch order.Status {
	case model.OrderStatusPending:
		err = s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
			locked, err := s.orderRepo.GetForUpdate(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if locked == nil || locked.Status != model.OrderStatusPending {
				return errStaleStatus
			}
			for _, item := range locked.Items {
				if err := s.productRepo.RestoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
			if ok, err := s.orderRepo.Cancel(ctx, tx, order.ID, model.OrderStatusPending, reason); err != nil {
				return err
			} else if !ok {
				return errStaleStatus
			}
			return s.recordActivity(ctx, tx, actor, "order.cancel", order.ID, map[string]string{
				"from":   string(model.OrderStatusPending),
				"to":     string(model.OrderStatusCancelled),
				"reason": reason,
			})
		})
		if errors.Is(err, errStaleStatus) {
			return nil, ErrConcurrentModification
		}
		if err != nil {
			return nil, err
		}
		order.Status = model.OrderStatusCancelled
		order.CancelReason = reason
		return order, nil

	case model.OrderStatusProcessing:
		if order.CancelRequested {
			return order, nil
		}
		err = s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
			ok, err := s.orderRepo.RequestCancellation(ctx, tx, order.ID, reason)
			if err != nil {
				return err
			}
			if !ok {
				return errStaleStatus
			}
			return s.recordActivity(ctx, tx, actor, "order.cancel_requested", order.ID, map[string]string{
				"status": string(order.Status),
				"reason": reason,
			})
		})
		if errors.Is(err, errStaleStatus) {
			return nil, ErrConcurrentModification
		}
		if err != nil {
			return nil, err
		}
		order.CancelRequested = true
		order.CancelReason = reason
		return order, nil

	default:
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.Status, Op: "cancel"}
	}
}

// ApproveCancellation cancels a processing order with a pending request,
// releasing reserved stock back to inventory in the same transaction. The
// row lock serializes this against a racing shipment confirmation.
func (s *OrderService) ApproveCancellation(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Order, error) {
	var cancelled *model.Order
	err := s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		order, err := s.orderRepo.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != model.OrderStatusProcessing {
			return &InvalidTransitionError{OrderID: order.ID, From: order.Status, Op: "approve cancellation of"}
		}
		if !order.CancelRequested {
			return ErrNoCancellationRequest
		}

		for _, item := range order.Items {
			if err := s.productRepo.RestoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if ok, err := s.orderRepo.Cancel(ctx, tx, order.ID, model.OrderStatusProcessing, order.CancelReason); err != nil {
			return err
		} else if !ok {
			return ErrConcurrentModification
		}
		if err := s.recordActivity(ctx, tx, actor, "order.cancel_approved", order.ID, map[string]string{
			"from":   string(model.OrderStatusProcessing),
			"to":     string(model.OrderStatusCancelled),
			"reason": order.CancelReason,
		}); err != nil {
			return err
		}

		order.Status = model.OrderStatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// RejectCancellation clears a pending cancellation request without touching
// the order status. The admin's reason is kept verbatim in the audit trail.
func (s *OrderService) RejectCancellation(ctx context.Context, actor Actor, orderID uuid.UUID, adminReason string) (*model.Order, error) {
	var kept *model.Order
	err := s.orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		order, err := s.orderRepo.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != model.OrderStatusProcessing {
			return &InvalidTransitionError{OrderID: order.ID, From: order.Status, Op: "reject cancellation of"}
		}
		if !order.CancelRequested {
			return ErrNoCancellationRequest
		}

		if ok, err := s.orderRepo.ClearCancellationRequest(ctx, tx, order.ID); err != nil {
			return err
		} else if !ok {
			return ErrConcurrentModification
		}
		if err := s.recordActivity(ctx, tx, actor, "order.cancel_rejected", order.ID, map[string]string{
			"status": string(order.Status),
			"reason": adminReason,
		}); err != nil {
			return err
		}

		order.CancelRequested = false
		kept = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kept, nil
}

func (s *OrderService) GetByID(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrOrderAccessDenied
	}
	return order, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return s.orderRepo.ListByUserID(ctx, userID)
}

// recordActivity writes an audit entry, inside tx when one is open. Audit
// completeness is a compliance requirement, so failures propagate instead
// of being dropped.
func (s *OrderService) recordActivity(ctx context.Context, tx pgx.Tx, actor Actor, action string, orderID uuid.UUID, details map[string]string) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	entry := &model.ActivityLog{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "order",
		EntityID:   orderID.String(),
		Details:    string(payload),
	}
	if err := s.auditRepo.InsertActivity(ctx, tx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (s *OrderService) publishInvoiceRequest(ctx context.Context, order *model.Order) {
	if s.amqpCh == nil {
		return
	}
	msg, err := json.Marshal(model.InvoiceMessage{OrderID: order.ID, UserID: order.UserID})
	if err != nil {
		s.log.Error("marshal invoice message", "order_id", order.ID, "error", err)
		return
	}
	err = s.amqpCh.PublishWithContext(ctx, "", invoiceQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		s.log.Error("publish invoice request", "order_id", order.ID, "error", err)
	}
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
