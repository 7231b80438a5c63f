package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/averix/go-order-api/internal/config"
	"github.com/averix/go-order-api/internal/model"
)

// Invoice is the gateway's payment page for one order.
type Invoice struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// CallbackResult is the verified content of a payment notification.
type CallbackResult struct {
	OrderNumber   string
	TransactionID string
	Status        string
}

type PaymentGateway interface {
	CreateInvoice(ctx context.Context, order *model.Order) (*Invoice, error)
	VerifyCallback(payload []byte, signature string) (*CallbackResult, error)
}

type paymentClient struct {
	http        *http.Client
	baseURL     string
	serverKey   string
	maxAttempts int
	expiry      time.Duration
}

func NewPaymentGateway(cfg config.PaymentConfig) PaymentGateway {
	return &paymentClient{
		http:        &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		serverKey:   cfg.ServerKey,
		maxAttempts: cfg.MaxAttempts,
		expiry:      cfg.InvoiceExpiry,
	}
}

type createInvoiceRequest struct {
	ExternalID    string `json:"external_id"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	Description   string `json:"description"`
}

type createInvoiceResponse struct {
	InvoiceID  string    `json:"invoice_id"`
	InvoiceURL string    `json:"invoice_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (c *paymentClient) CreateInvoice(ctx context.Context, order *model.Order) (*Invoice, error) {
	payload, err := json.Marshal(createInvoiceRequest{
		ExternalID:    order.Number,
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		Description:   "Order " + order.Number,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + c.serverKey}
	body, err := postJSON(ctx, c.http, "payment", c.baseURL+"/v1/invoices", headers, payload, c.maxAttempts)
	if err != nil {
		return nil, err
	}

	var resp createInvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	if resp.ExpiresAt.IsZero() {
		resp.ExpiresAt = time.Now().Add(c.expiry)
	}
	return &Invoice{ID: resp.InvoiceID, URL: resp.InvoiceURL, ExpiresAt: resp.ExpiresAt}, nil
}

type callbackPayload struct {
	ExternalID    string `json:"external_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// VerifyCallback checks the HMAC-SHA256 signature over the raw payload
// before anything in it is trusted. Verification failure fails closed.
func (c *paymentClient) VerifyCallback(payload []byte, signature string) (*CallbackResult, error) {
	mac := hmac.New(sha256.New, []byte(c.serverKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return nil, ErrUntrustedCallback
	}
	expectedRaw, _ := hex.DecodeString(expected)
	if !hmac.Equal(provided, expectedRaw) {
		return nil, ErrUntrustedCallback
	}

	var cb callbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("decode callback payload: %w", err)
	}
	if cb.ExternalID == "" || cb.TransactionID == "" {
		return nil, fmt.Errorf("callback payload missing order or transaction reference")
	}
	return &CallbackResult{
		OrderNumber:   cb.ExternalID,
		TransactionID: cb.TransactionID,
		Status:        cb.Status,
	}, nil
}

// SignPayload computes the callback signature for a payload. Exported for
// tests and for the sandbox tooling that simulates gateway notifications.
func SignPayload(serverKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(serverKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
