package action

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/licensahq/stageact/model"
)

// ExprKind discriminates the parsed forms a config value can take.
type ExprKind int

const (
	// ExprLiteral is a plain value used as-is.
	ExprLiteral ExprKind = iota
	// ExprFieldRef is an @field reference resolved against the data
	// context at execution time.
	ExprFieldRef
	// ExprSelfToken is the __self__ marker: substitute the acting
	// operator's own bearer credential at execution time. The credential
	// never appears in stored configuration or audit records.
	ExprSelfToken
)

// Expr is a config value parsed at load time and resolved at dispatch
// time. Parsing up front lets template validation reject malformed
// references before any action runs.
type Expr struct {
	Kind    ExprKind
	Literal string
	Field   string
}

const selfToken = "__self__"

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ParseExpr classifies a raw string config value.
//
// Values beginning with "@" are field references and the remainder must
// be a well-formed field name. The literal "__self__" is the credential
// substitution token. Everything else is a literal.
func ParseExpr(raw string) (Expr, error) {
	if raw == selfToken {
		return Expr{Kind: ExprSelfToken}, nil
	}
	if strings.HasPrefix(raw, "@") {
		field := raw[1:]
		if !fieldNamePattern.MatchString(field) {
			return Expr{}, model.NewConfigurationError(
				fmt.Sprintf("malformed field reference %q", raw))
		}
		return Expr{Kind: ExprFieldRef, Field: field}, nil
	}
	return Expr{Kind: ExprLiteral, Literal: raw}, nil
}

// LiteralExpr builds a literal expression without parsing.
func LiteralExpr(v string) Expr {
	return Expr{Kind: ExprLiteral, Literal: v}
}

// Resolve evaluates the expression against a data context and actor.
// A field reference that names an absent field resolves to the empty
// string with ok=false so callers can decide whether absence is fatal.
func (e Expr) Resolve(dctx model.DataContext, actor model.Actor) (string, bool) {
	switch e.Kind {
	case ExprLiteral:
		return e.Literal, true
	case ExprFieldRef:
		return dctx.String(e.Field)
	case ExprSelfToken:
		return actor.Credential, actor.Credential != ""
	}
	return "", false
}

// IsZero reports whether the expression was never set.
func (e Expr) IsZero() bool {
	return e.Kind == ExprLiteral && e.Literal == ""
}

var placeholderPattern = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_.]*)`)

// Substitute replaces every @field placeholder in a template string with
// its value from the data context. Unresolvable placeholders are left in
// place so the omission is visible in the produced text.
func Substitute(template string, dctx model.DataContext) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if v, ok := dctx.String(match[1:]); ok {
			return v
		}
		return match
	})
}
