package collab

import (
	"context"
	"fmt"
	"net/http"

	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

// MailMessage is a single outbound message handed to the mail queue.
type MailMessage struct {
	To            string `json:"to"`
	From          string `json:"from,omitempty"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Mailer enqueues outbound mail.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// HTTPMailer sends mail through the mail-queue service's HTTP API.
type HTTPMailer struct {
	client *Client
	from   string
}

// NewHTTPMailer builds a mailer from the mail configuration section.
func NewHTTPMailer(cfg config.MailConfig) *HTTPMailer {
	return &HTTPMailer{
		client: NewClient(config.ServiceConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}),
		from: cfg.FromAddress,
	}
}

// Send enqueues one message. A non-2xx reply from the queue is a send
// failure.
func (m *HTTPMailer) Send(ctx context.Context, msg MailMessage) error {
	if msg.From == "" {
		msg.From = m.from
	}
	resp, err := m.client.DoJSON(ctx, http.MethodPost, "/v1/messages", nil, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return model.NewActionFailedError("email",
			fmt.Sprintf("mail queue returned status %d", resp.StatusCode))
	}
	return nil
}
