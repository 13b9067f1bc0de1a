package action

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

// EmailHandler sends templated mail to a recipient resolved from the
// data context. The same handler backs admin_email, where the recipient
// is the configured back-office address instead.
type EmailHandler struct {
	typ       Type
	mailer    collab.Mailer
	templates map[string]config.MailTemplate
	adminAddr string
}

// NewEmailHandler builds the handler for the email action type.
func NewEmailHandler(mailer collab.Mailer, templates map[string]config.MailTemplate) *EmailHandler {
	return &EmailHandler{typ: TypeEmail, mailer: mailer, templates: templates}
}

// NewAdminEmailHandler builds the handler for the admin_email action
// type. All messages go to the configured admin address.
func NewAdminEmailHandler(mailer collab.Mailer, templates map[string]config.MailTemplate, adminAddr string) *EmailHandler {
	return &EmailHandler{typ: TypeAdminEmail, mailer: mailer, templates: templates, adminAddr: adminAddr}
}

func (h *EmailHandler) Type() Type { return h.typ }

// Execute resolves the recipient, renders the template against the data
// context, and enqueues the message.
func (h *EmailHandler) Execute(ctx context.Context, cfg *Config, dctx model.DataContext, actor model.Actor) (model.ActionResult, error) {
	ec := cfg.Email
	if ec == nil {
		return nil, model.NewConfigurationError("email action missing parsed config")
	}

	to, err := h.recipient(ec, dctx, actor)
	if err != nil {
		return nil, err
	}

	tpl, ok := h.templates[ec.Template]
	if !ok {
		return nil, model.NewConfigurationError(
			fmt.Sprintf("unknown mail template %q", ec.Template))
	}

	subject := ec.Subject
	if subject == "" {
		subject = tpl.Subject
	}
	subject = Substitute(subject, dctx)
	body := Substitute(tpl.Body, dctx)

	msg := collab.MailMessage{
		To:            to,
		Subject:       subject,
		Body:          body,
		CorrelationID: actor.CorrelationID,
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		if model.IsCode(err, model.ErrActionFailed) {
			return nil, err
		}
		return nil, model.NewActionFailedError(h.typ.String(), err.Error())
	}

	return model.ActionResult{
		"recipient": to,
		"template":  ec.Template,
		"subject":   subject,
	}, nil
}

func (h *EmailHandler) recipient(ec *EmailConfig, dctx model.DataContext, actor model.Actor) (string, error) {
	if h.typ == TypeAdminEmail {
		return h.adminAddr, nil
	}

	to, ok := ec.Recipient.Resolve(dctx, actor)
	if !ok || to == "" {
		return "", model.NewActionFailedError(h.typ.String(),
			fmt.Sprintf("recipient field %q is absent from the data context", ec.Recipient.Field))
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return "", model.NewActionFailedError(h.typ.String(),
			fmt.Sprintf("recipient %q is not a valid address", to))
	}
	return to, nil
}
