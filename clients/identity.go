package clients

import (
	"context"
	"errors"
	"net/http"

	"github.com/yashrajoria/storefront-core/models"
)

type viewerPayload struct {
	Viewer *models.User `json:"viewer"`
}

// CurrentUser returns the identity bound to the request credentials. The guest placeholder is
// returned as-is; callers use User.Authenticated.
func (g *GatewayClient) CurrentUser(ctx context.Context) (*models.User, error) {
	var payload viewerPayload
	err := g.do(ctx, call{method: http.MethodGet, path: "/viewer"}, &payload)
	var partial *PartialResponseError
	if err != nil && !errors.As(err, &partial) {
		return nil, err
	}
	if payload.Viewer == nil {
		return &models.User{ID: models.GuestUserID}, nil
	}
	return payload.Viewer, nil
}
