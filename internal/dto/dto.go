package dto

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/averix/go-order-api/internal/model"
)

// --- Auth ---

// TokenClaims is the JWT payload issued at login and parsed by the auth
// middleware. Subject carries the user ID.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

// --- Cart ---

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

type CartResponse struct {
	ID    uuid.UUID          `json:"id"`
	Items []CartItemResponse `json:"items"`
}

type CartItemResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// --- Checkout / Order ---

type CheckoutRequest struct {
	AddressID      uuid.UUID `json:"address_id" binding:"required"`
	ShippingMethod string    `json:"shipping_method" binding:"required"`
	PaymentMethod  string    `json:"payment_method" binding:"required"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type RejectCancellationRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type MarkShippedRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	Number          string              `json:"number"`
	UserID          uuid.UUID           `json:"user_id"`
	Status          model.OrderStatus   `json:"status"`
	Subtotal        int64               `json:"subtotal"`
	Discount        int64               `json:"discount"`
	ShippingCost    int64               `json:"shipping_cost"`
	Fees            int64               `json:"fees"`
	TotalAmount     int64               `json:"total_amount"`
	ShippingMethod  string              `json:"shipping_method"`
	ShippingAddress string              `json:"shipping_address"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	PaymentMethod   string              `json:"payment_method"`
	InvoiceURL      string              `json:"invoice_url,omitempty"`
	CancelRequested bool                `json:"cancel_requested"`
	CancelReason    string              `json:"cancel_reason,omitempty"`
	Items           []OrderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type OrderItemResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Quantity  int       `json:"quantity"`
	Subtotal  int64     `json:"subtotal"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
}

// --- Payment callback ---

type PaymentCallbackResponse struct {
	OrderNumber string            `json:"order_number"`
	Status      model.OrderStatus `json:"status"`
}

// --- Shipping ---

type RateQuoteRequest struct {
	DestinationCode string `form:"destination" binding:"required"`
	WeightGrams     int    `form:"weight" binding:"required,min=1"`
}

type RateQuoteResponse struct {
	Cost    int64 `json:"cost"`
	ETADays int   `json:"eta_days"`
}

// --- Review ---

type CreateReviewRequest struct {
	OrderID     uuid.UUID `json:"order_id" binding:"required"`
	OrderItemID uuid.UUID `json:"order_item_id" binding:"required"`
	Rating      int       `json:"rating" binding:"required,min=1,max=5"`
	Comment     string    `json:"comment"`
}

type SetReviewVisibilityRequest struct {
	Status model.ReviewStatus `json:"status" binding:"required,oneof=show hide"`
}

type ReviewResponse struct {
	ID        uuid.UUID          `json:"id"`
	ProductID uuid.UUID          `json:"product_id"`
	Rating    int                `json:"rating"`
	Comment   string             `json:"comment"`
	Status    model.ReviewStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}
