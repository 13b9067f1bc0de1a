package collab

import (
	"context"
	"fmt"
	"net/http"

	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

// InvoiceRequest asks the payments service to raise an invoice against
// an application.
type InvoiceRequest struct {
	ApplicationUUID string  `json:"application_uuid"`
	InvoiceType     string  `json:"invoice_type"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Description     string  `json:"description,omitempty"`
	DueDays         int     `json:"due_days"`
	RequestedBy     string  `json:"requested_by"`
}

// InvoiceReceipt is the payments service's acknowledgement.
type InvoiceReceipt struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	DueDate       string  `json:"due_date"`
}

// Payments raises invoices.
type Payments interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (InvoiceReceipt, error)
}

// HTTPPayments talks to the payments service over HTTP.
type HTTPPayments struct {
	client *Client
}

// NewHTTPPayments builds a payments client from a service configuration
// section.
func NewHTTPPayments(cfg config.ServiceConfig) *HTTPPayments {
	return &HTTPPayments{client: NewClient(cfg)}
}

// CreateInvoice raises an invoice. A non-2xx reply fails the call.
func (p *HTTPPayments) CreateInvoice(ctx context.Context, req InvoiceRequest) (InvoiceReceipt, error) {
	resp, err := p.client.DoJSON(ctx, http.MethodPost, "/v1/invoices", nil, req)
	if err != nil {
		return InvoiceReceipt{}, err
	}
	if resp.StatusCode >= 300 {
		return InvoiceReceipt{}, model.NewActionFailedError("create_invoice",
			fmt.Sprintf("payments service returned status %d", resp.StatusCode))
	}

	var receipt InvoiceReceipt
	if body, ok := resp.Body.(map[string]any); ok {
		if v, ok := body["invoice_id"].(string); ok {
			receipt.InvoiceID = v
		}
		if v, ok := body["invoice_number"].(string); ok {
			receipt.InvoiceNumber = v
		}
		if v, ok := body["amount"].(float64); ok {
			receipt.Amount = v
		}
		if v, ok := body["currency"].(string); ok {
			receipt.Currency = v
		}
		if v, ok := body["due_date"].(string); ok {
			receipt.DueDate = v
		}
	}
	if receipt.InvoiceID == "" {
		return InvoiceReceipt{}, model.NewActionFailedError("create_invoice",
			"payments service reply did not include an invoice_id")
	}
	return receipt, nil
}
