package action

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/licensahq/stageact/model"
)

// Config is the parsed, type-checked form of an action's raw
// configuration map. Exactly one of the per-type fields is set,
// matching Type.
type Config struct {
	Type     Type
	Email    *EmailConfig
	APICall  *APICallConfig
	Invoice  *InvoiceConfig
	Document *DocumentConfig

	// Raw preserves the original map for audit records.
	Raw map[string]any
}

// EmailConfig drives the email and admin_email handlers. For
// admin_email the recipient fields are unused: the destination comes
// from service configuration.
type EmailConfig struct {
	Template  string
	Subject   string
	Recipient Expr
}

// APICallConfig drives the api_call handler.
type APICallConfig struct {
	Service     string
	Endpoint    string
	Method      string
	Headers     map[string]Expr
	BodyMapping map[string]Expr
	AuthToken   Expr
}

// InvoiceConfig drives the create_invoice handler.
type InvoiceConfig struct {
	InvoiceType string
	Amount      Expr
	Currency    string
	Description string
	DueDays     int
}

// DocumentConfig drives the create_document handler.
type DocumentConfig struct {
	DocumentType string
	TemplateName string
	Fields       map[string]Expr
}

// ParseConfig validates and types a raw action specification. All
// errors it returns carry the CONFIGURATION_ERROR or
// UNSUPPORTED_ACTION_TYPE code so callers can reject the whole batch
// before executing anything.
func ParseConfig(spec model.ActionSpec) (*Config, error) {
	typ, err := ParseType(spec.Type)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Type: typ, Raw: spec.Config}

	switch typ {
	case TypeEmail:
		cfg.Email, err = parseEmailConfig(spec.Config, true)
	case TypeAdminEmail:
		cfg.Email, err = parseEmailConfig(spec.Config, false)
	case TypeAPICall:
		cfg.APICall, err = parseAPICallConfig(spec.Config)
	case TypeCreateInvoice:
		cfg.Invoice, err = parseInvoiceConfig(spec.Config)
	case TypeCreateDocument:
		cfg.Document, err = parseDocumentConfig(spec.Config)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseEmailConfig(raw map[string]any, needRecipient bool) (*EmailConfig, error) {
	cfg := &EmailConfig{}

	var err error
	cfg.Template, err = requireString(raw, "template")
	if err != nil {
		return nil, err
	}
	if s, ok := raw["subject"].(string); ok {
		cfg.Subject = s
	}

	if needRecipient {
		rec, err := requireString(raw, "recipient")
		if err != nil {
			return nil, err
		}
		cfg.Recipient, err = ParseExpr(rec)
		if err != nil {
			return nil, err
		}
		if cfg.Recipient.Kind == ExprSelfToken {
			return nil, model.NewConfigurationError("recipient cannot be __self__")
		}
	}
	return cfg, nil
}

func parseAPICallConfig(raw map[string]any) (*APICallConfig, error) {
	cfg := &APICallConfig{}

	var err error
	cfg.Service, err = requireString(raw, "service")
	if err != nil {
		return nil, err
	}
	cfg.Endpoint, err = requireString(raw, "endpoint")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(cfg.Endpoint, "/") {
		return nil, model.NewConfigurationError(
			fmt.Sprintf("endpoint %q must be an absolute path", cfg.Endpoint))
	}

	cfg.Method = http.MethodPost
	if m, ok := raw["method"].(string); ok && m != "" {
		cfg.Method = strings.ToUpper(m)
	}
	switch cfg.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, model.NewConfigurationError(
			fmt.Sprintf("unsupported HTTP method %q", cfg.Method))
	}

	cfg.Headers, err = parseExprMap(raw, "headers")
	if err != nil {
		return nil, err
	}
	cfg.BodyMapping, err = parseExprMap(raw, "body")
	if err != nil {
		return nil, err
	}

	if tok, ok := raw["auth_token"].(string); ok && tok != "" {
		cfg.AuthToken, err = ParseExpr(tok)
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func parseInvoiceConfig(raw map[string]any) (*InvoiceConfig, error) {
	cfg := &InvoiceConfig{Currency: "EUR", DueDays: 30}

	var err error
	cfg.InvoiceType, err = requireString(raw, "invoice_type")
	if err != nil {
		return nil, err
	}

	amount, err := requireString(raw, "amount")
	if err != nil {
		return nil, err
	}
	cfg.Amount, err = ParseExpr(amount)
	if err != nil {
		return nil, err
	}
	if cfg.Amount.Kind == ExprSelfToken {
		return nil, model.NewConfigurationError("amount cannot be __self__")
	}

	if c, ok := raw["currency"].(string); ok && c != "" {
		cfg.Currency = c
	}
	if d, ok := raw["description"].(string); ok {
		cfg.Description = d
	}
	if days, ok := intValue(raw["due_days"]); ok {
		if days < 1 {
			return nil, model.NewConfigurationError("due_days must be at least 1")
		}
		cfg.DueDays = days
	}
	return cfg, nil
}

func parseDocumentConfig(raw map[string]any) (*DocumentConfig, error) {
	cfg := &DocumentConfig{}

	var err error
	cfg.DocumentType, err = requireString(raw, "document_type")
	if err != nil {
		return nil, err
	}
	cfg.TemplateName, err = requireString(raw, "template_name")
	if err != nil {
		return nil, err
	}
	cfg.Fields, err = parseExprMap(raw, "fields")
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", model.NewConfigurationError(fmt.Sprintf("missing required key %q", key))
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", model.NewConfigurationError(fmt.Sprintf("key %q must be a non-empty string", key))
	}
	return s, nil
}

func parseExprMap(raw map[string]any, key string) (map[string]Expr, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, model.NewConfigurationError(fmt.Sprintf("key %q must be a map", key))
	}
	out := make(map[string]Expr, len(m))
	for k, mv := range m {
		s, ok := mv.(string)
		if !ok {
			return nil, model.NewConfigurationError(
				fmt.Sprintf("%s.%s must be a string", key, k))
		}
		expr, err := ParseExpr(s)
		if err != nil {
			return nil, err
		}
		out[k] = expr
	}
	return out, nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
