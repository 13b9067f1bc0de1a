// Package action defines the action vocabulary of the engine: the
// supported action types, parsed per-type configuration, value
// expressions, and the handlers that carry actions out.
package action

import (
	"github.com/licensahq/stageact/model"
)

// Type identifies a supported action kind.
type Type string

const (
	TypeEmail          Type = "email"
	TypeAdminEmail     Type = "admin_email"
	TypeAPICall        Type = "api_call"
	TypeCreateInvoice  Type = "create_invoice"
	TypeCreateDocument Type = "create_document"
)

// Types lists every supported action type.
func Types() []Type {
	return []Type{TypeEmail, TypeAdminEmail, TypeAPICall, TypeCreateInvoice, TypeCreateDocument}
}

// ParseType validates a raw action type string. Unknown types are a
// configuration error: they must be rejected before any action in the
// batch runs.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypeEmail, TypeAdminEmail, TypeAPICall, TypeCreateInvoice, TypeCreateDocument:
		return Type(raw), nil
	}
	return "", model.NewUnsupportedActionTypeError(raw)
}

// String returns the wire representation.
func (t Type) String() string { return string(t) }
