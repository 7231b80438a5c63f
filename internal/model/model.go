package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Actor roles, shared by the auth token, the middleware, and the audit
// trail.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// transitions is the full lifecycle graph. Cancellation is only reachable
// before the order leaves the warehouse.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusCompleted},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is a user's saved shipping destination. AreaCode is the carrier's
// destination identifier used for rate lookups.
type Address struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Label     string
	Recipient string
	Phone     string
	Street    string
	City      string
	AreaCode  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Address) Snapshot() string {
	return a.Recipient + ", " + a.Phone + ", " + a.Street + ", " + a.City
}

type Product struct {
	ID                uuid.UUID
	Name              string
	Description       string
	Price             int64 // minor currency units
	Stock             int
	WeightGrams       int
	Discontinued      bool
	DiscountPercent   decimal.Decimal
	DiscountStartDate *time.Time
	DiscountEndDate   *time.Time
	DiscountStatus    bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DiscountActive reports whether the discount window covers now.
func (p *Product) DiscountActive(now time.Time) bool {
	if !p.DiscountStatus || p.DiscountStartDate == nil || p.DiscountEndDate == nil {
		return false
	}
	return !now.Before(*p.DiscountStartDate) && !now.After(*p.DiscountEndDate)
}

// EffectivePrice returns the unit price in minor units after applying an
// active discount window. Rounding is always down, in the customer's favor.
func (p *Product) EffectivePrice(now time.Time) int64 {
	if !p.DiscountActive(now) {
		return p.Price
	}
	price := decimal.NewFromInt(p.Price)
	factor := decimal.NewFromInt(100).Sub(p.DiscountPercent).Div(decimal.NewFromInt(100))
	return price.Mul(factor).Floor().IntPart()
}

type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartItem struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID     uuid.UUID
	Number string // externally visible reference, shared with customer and carrier
	UserID uuid.UUID
	Status OrderStatus

	// Money breakdown in minor currency units.
	// Invariant: TotalAmount = Subtotal - Discount + ShippingCost + Fees.
	Subtotal     int64
	Discount     int64
	ShippingCost int64
	Fees         int64
	TotalAmount  int64

	ShippingMethod  string
	ShippingAddress string
	TrackingNumber  string

	PaymentMethod    string
	InvoiceID        string
	InvoiceURL       string
	InvoiceExpiresAt *time.Time
	PaymentTxnID     string

	CancelRequested bool
	CancelReason    string

	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceValid reports whether a previously issued invoice can still be paid.
func (o *Order) InvoiceValid(now time.Time) bool {
	return o.InvoiceID != "" && o.InvoiceExpiresAt != nil && now.Before(*o.InvoiceExpiresAt)
}

// OrderItem is a frozen snapshot of the product at purchase time; the live
// Product row may change price or disappear without affecting history.
// Invariant: Subtotal = Price * Quantity.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Name      string
	Price     int64
	Quantity  int
	Subtotal  int64
	CreatedAt time.Time
}

type ReviewStatus string

const (
	ReviewStatusShow ReviewStatus = "show"
	ReviewStatusHide ReviewStatus = "hide"
)

type Review struct {
	ID          uuid.UUID
	OrderItemID uuid.UUID
	UserID      uuid.UUID
	ProductID   uuid.UUID
	Rating      int
	Comment     string
	Status      ReviewStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActivityLog rows are append-only: written once, never updated.
type ActivityLog struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	ActorRole  string
	Action     string
	EntityType string
	EntityID   string
	Details    string
	CreatedAt  time.Time
}

// AccessLog records authentication attempts, append-only.
type AccessLog struct {
	ID        uuid.UUID
	Email     string
	IP        string
	UserAgent string
	Success   bool
	CreatedAt time.Time
}

// InvoiceMessage is published to RabbitMQ after checkout so the worker can
// request a payment invoice asynchronously.
type InvoiceMessage struct {
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
}
