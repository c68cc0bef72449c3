package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/models"
)

// MalformedCartError reports a cart whose lines could not be parsed. ItemCount is the count
// the backend reported independently of the lines.
type MalformedCartError struct {
	ItemCount int
	Err       error
}

func (e *MalformedCartError) Error() string {
	return fmt.Sprintf("malformed cart (remote item_count=%d): %v", e.ItemCount, e.Err)
}

func (e *MalformedCartError) Unwrap() error { return e.Err }

type cartLineDTO struct {
	Key         string `json:"key"`
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal"`
	Total       string `json:"total"`
}

type cartDTO struct {
	ItemCount int             `json:"item_count"`
	Items     json.RawMessage `json:"items"`
	Subtotal  string          `json:"subtotal"`
	Total     string          `json:"total"`
	TotalTax  string          `json:"total_tax"`
}

type cartPayload struct {
	Cart json.RawMessage `json:"cart"`
}

// Cart fetches the authoritative cart.
func (g *GatewayClient) Cart(ctx context.Context) (*models.CartSnapshot, error) {
	var payload cartPayload
	err := g.do(ctx, call{method: http.MethodGet, path: "/cart", captureSession: true}, &payload)
	return decodeCart(payload, err)
}

type mutateRequest struct {
	Ops []models.LineOp `json:"ops"`
}

// MutateCart applies ops remotely and returns the cart the backend reports afterwards.
func (g *GatewayClient) MutateCart(ctx context.Context, ops []models.LineOp) (*models.CartSnapshot, error) {
	var payload cartPayload
	err := g.do(ctx, call{
		method:         http.MethodPost,
		path:           "/cart/items",
		body:           mutateRequest{Ops: ops},
		captureSession: true,
	}, &payload)
	return decodeCart(payload, err)
}

// decodeCart keeps a partial-response error alongside the decoded snapshot.
func decodeCart(payload cartPayload, callErr error) (*models.CartSnapshot, error) {
	var partial *PartialResponseError
	if callErr != nil && !errors.As(callErr, &partial) {
		return nil, callErr
	}
	if len(payload.Cart) == 0 || string(payload.Cart) == "null" {
		if callErr != nil {
			return nil, apperrors.RemoteBusiness(partial.Errors[0].Message, partial)
		}
		return &models.CartSnapshot{UpdatedAt: time.Now()}, nil
	}

	snap, err := parseCart(payload.Cart)
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return snap, callErr
	}
	return snap, nil
}

func parseCart(raw json.RawMessage) (*models.CartSnapshot, error) {
	var dto cartDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, apperrors.Network("unreadable cart", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}

	var lines []cartLineDTO
	if len(dto.Items) > 0 && string(dto.Items) != "null" {
		if err := json.Unmarshal(dto.Items, &lines); err != nil {
			return nil, &MalformedCartError{ItemCount: dto.ItemCount, Err: err}
		}
	}

	snap := &models.CartSnapshot{
		Subtotal:  dto.Subtotal,
		Total:     dto.Total,
		Taxes:     dto.TotalTax,
		UpdatedAt: time.Now(),
	}
	seen := make(map[models.LineKey]bool, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, &MalformedCartError{ItemCount: dto.ItemCount, Err: errors.New("line without product id")}
		}
		key := models.LineKey{ProductID: l.ProductID, VariationID: l.VariationID}
		if seen[key] {
			return nil, &MalformedCartError{ItemCount: dto.ItemCount, Err: fmt.Errorf("duplicate line %s", key)}
		}
		seen[key] = true
		snap.Items = append(snap.Items, models.CartLineItem{
			Key:      key,
			RemoteID: l.Key,
			Name:     l.Name,
			Quantity: l.Quantity,
			Subtotal: l.Subtotal,
			Total:    l.Total,
		})
	}
	return snap, nil
}
