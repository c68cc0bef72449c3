// Package payment wraps third-party payment confirmation behind a small capability surface.
package payment

import "strings"

// MethodKind is the resolved kind of a checkout payment method.
type MethodKind int

const (
	BankTransfer MethodKind = iota
	CardGateway
	OtherGateway
)

func (k MethodKind) String() string {
	switch k {
	case BankTransfer:
		return "bank_transfer"
	case CardGateway:
		return "card_gateway"
	default:
		return "other_gateway"
	}
}

// Method is a payment method id resolved once at load time.
type Method struct {
	Kind MethodKind
	ID   string
}

// RequiresGateway reports whether the method needs a client-side confirmation before the
// order is written.
func (m Method) RequiresGateway() bool {
	return m.Kind == CardGateway
}

var methodAliases = map[string]MethodKind{
	"bacs":                 BankTransfer,
	"cheque":               BankTransfer,
	"cod":                  BankTransfer,
	"stripe":               CardGateway,
	"stripe_cc":            CardGateway,
	"woocommerce_payments": CardGateway,
	"card":                 CardGateway,
}

func ResolveMethod(id string) Method {
	id = strings.TrimSpace(id)
	if kind, ok := methodAliases[strings.ToLower(id)]; ok {
		return Method{Kind: kind, ID: id}
	}
	return Method{Kind: OtherGateway, ID: id}
}

// ResolveMethods resolves the ids the backend advertises, dropping blanks and duplicates.
func ResolveMethods(ids []string) []Method {
	out := make([]Method, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		m := ResolveMethod(id)
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
