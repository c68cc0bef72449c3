package models

import (
	"fmt"
	"time"
)

// LineKey identifies a cart line: product plus optional variation.
type LineKey struct {
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id,omitempty"`
}

func (k LineKey) String() string {
	if k.VariationID == "" {
		return k.ProductID
	}
	return fmt.Sprintf("%s:%s", k.ProductID, k.VariationID)
}

// CartLineItem is one line of the remote cart. Amounts are remote-formatted strings.
type CartLineItem struct {
	Key      LineKey `json:"key"`
	RemoteID string  `json:"remote_key,omitempty"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Subtotal string  `json:"subtotal"`
	Total    string  `json:"total"`
}

// CartSnapshot is the materialized local view of the remote cart.
// Totals always come from the backend.
type CartSnapshot struct {
	Items     []CartLineItem `json:"items"`
	Subtotal  string         `json:"subtotal"`
	Total     string         `json:"total"`
	Taxes     string         `json:"taxes"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Find returns the line for key.
func (s CartSnapshot) Find(key LineKey) (CartLineItem, bool) {
	for _, it := range s.Items {
		if it.Key == key {
			return it, true
		}
	}
	return CartLineItem{}, false
}

func (s CartSnapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// ItemCount sums quantities across lines.
func (s CartSnapshot) ItemCount() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

// Clone returns a deep copy safe to hand to readers.
func (s CartSnapshot) Clone() CartSnapshot {
	cp := s
	if s.Items != nil {
		cp.Items = append([]CartLineItem(nil), s.Items...)
	}
	return cp
}

// LineOpKind is the kind of a cart mutation.
type LineOpKind string

const (
	LineOpAdd         LineOpKind = "add"
	LineOpSetQuantity LineOpKind = "set_quantity"
	LineOpRemove      LineOpKind = "remove"
)

// LineOp is one cart mutation sent to the backend.
type LineOp struct {
	Kind     LineOpKind `json:"kind"`
	Key      LineKey    `json:"key"`
	Quantity int        `json:"quantity,omitempty"`
}

func AddLine(key LineKey, qty int) LineOp {
	return LineOp{Kind: LineOpAdd, Key: key, Quantity: qty}
}

func SetQuantity(key LineKey, qty int) LineOp {
	return LineOp{Kind: LineOpSetQuantity, Key: key, Quantity: qty}
}

func RemoveLine(key LineKey) LineOp {
	return LineOp{Kind: LineOpRemove, Key: key}
}
