package action

import (
	"context"
	"fmt"
	"strconv"

	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/model"
)

// InvoiceHandler raises invoices through the payments collaborator.
type InvoiceHandler struct {
	payments collab.Payments
}

// NewInvoiceHandler builds the create_invoice handler.
func NewInvoiceHandler(payments collab.Payments) *InvoiceHandler {
	return &InvoiceHandler{payments: payments}
}

func (h *InvoiceHandler) Type() Type { return TypeCreateInvoice }

// Execute resolves the amount against the data context and asks the
// payments service to raise the invoice.
func (h *InvoiceHandler) Execute(ctx context.Context, cfg *Config, dctx model.DataContext, actor model.Actor) (model.ActionResult, error) {
	ic := cfg.Invoice
	if ic == nil {
		return nil, model.NewConfigurationError("create_invoice action missing parsed config")
	}

	raw, ok := ic.Amount.Resolve(dctx, actor)
	if !ok || raw == "" {
		return nil, model.NewActionFailedError(TypeCreateInvoice.String(),
			fmt.Sprintf("amount field %q is absent from the data context", ic.Amount.Field))
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return nil, model.NewActionFailedError(TypeCreateInvoice.String(),
			fmt.Sprintf("amount %q is not a positive number", raw))
	}

	appUUID, _ := dctx.String("entity_uuid")
	receipt, err := h.payments.CreateInvoice(ctx, collab.InvoiceRequest{
		ApplicationUUID: appUUID,
		InvoiceType:     ic.InvoiceType,
		Amount:          amount,
		Currency:        ic.Currency,
		Description:     Substitute(ic.Description, dctx),
		DueDays:         ic.DueDays,
		RequestedBy:     actor.ID,
	})
	if err != nil {
		return nil, err
	}

	return model.ActionResult{
		"invoice_id":     receipt.InvoiceID,
		"invoice_number": receipt.InvoiceNumber,
		"amount":         receipt.Amount,
		"currency":       receipt.Currency,
		"due_date":       receipt.DueDate,
	}, nil
}
