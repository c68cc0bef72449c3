package clients

import (
	"context"
	"net/http"

	"github.com/yashrajoria/storefront-core/models"
)

// IdempotencyHeader carries the client-generated request id of an order write.
const IdempotencyHeader = "Idempotency-Key"

type orderPayload struct {
	Order *models.Order `json:"order"`
}

// SubmitOrder writes the order. A partial response without an order is treated as a rejection.
func (g *GatewayClient) SubmitOrder(ctx context.Context, input models.CheckoutInput) (*models.Order, error) {
	var payload orderPayload
	err := g.do(ctx, call{
		method:  http.MethodPost,
		path:    "/checkout",
		body:    input,
		headers: http.Header{IdempotencyHeader: []string{input.ClientMutationID}},
	}, &payload)
	if payload.Order != nil {
		// The order exists remotely; trailing warnings do not undo it.
		return payload.Order, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, remoteBusiness([]RemoteError{{Message: "order was not created"}})
}
