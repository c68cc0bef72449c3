package payment

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/paymentmethod"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
)

type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backend stripe.Backend
}

// WithStripeBackend overrides the API backend, mainly for tests.
func WithStripeBackend(b stripe.Backend) StripeOption {
	return func(o *stripeOptions) { o.backend = b }
}

type StripeGateway struct {
	intents *paymentintent.Client
	methods *paymentmethod.Client
	logger  *zap.Logger
}

func NewStripeGateway(secretKey string, log *zap.Logger, opts ...StripeOption) *StripeGateway {
	o := stripeOptions{backend: stripe.GetBackend(stripe.APIBackend)}
	for _, opt := range opts {
		opt(&o)
	}
	return &StripeGateway{
		intents: &paymentintent.Client{B: o.backend, Key: secretKey},
		methods: &paymentmethod.Client{B: o.backend, Key: secretKey},
		logger:  logger.OrNop(log),
	}
}

func (g *StripeGateway) PrepareIntent(ctx context.Context, amount int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := g.intents.New(params)
	if err != nil {
		return "", stripeError("could not start payment", err)
	}
	g.logger.Info("Payment intent created", zap.String("intent_id", pi.ID), zap.Int64("amount", amount))
	return pi.ClientSecret, nil
}

func (g *StripeGateway) ConfirmIntent(ctx context.Context, req ConfirmRequest) (*IntentResult, error) {
	id := IntentID(req.ClientSecret)

	if req.PaymentMethodID != "" && req.Billing.Name != "" {
		if err := g.attachBilling(ctx, req.PaymentMethodID, req.Billing); err != nil {
			g.logger.Warn("Failed to attach billing details", zap.String("intent_id", id), zap.Error(err))
		}
	}

	params := &stripe.PaymentIntentConfirmParams{}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
	}
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	params.Context = ctx

	pi, err := g.intents.Confirm(id, params)
	if err != nil {
		return nil, stripeError("payment was not confirmed", err)
	}
	return toIntentResult(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, clientSecret string) (*IntentResult, error) {
	params := &stripe.PaymentIntentParams{ClientSecret: stripe.String(clientSecret)}
	params.Context = ctx

	pi, err := g.intents.Get(IntentID(clientSecret), params)
	if err != nil {
		return nil, stripeError("could not load payment", err)
	}
	return toIntentResult(pi), nil
}

func (g *StripeGateway) attachBilling(ctx context.Context, paymentMethodID string, b BillingDetails) error {
	params := &stripe.PaymentMethodParams{
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{
			Name: stripe.String(b.Name),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(b.Address.Address1),
				Line2:      stripe.String(b.Address.Address2),
				City:       stripe.String(b.Address.City),
				State:      stripe.String(b.Address.State),
				PostalCode: stripe.String(b.Address.Postcode),
				Country:    stripe.String(b.Address.Country),
			},
		},
	}
	if b.Email != "" {
		params.BillingDetails.Email = stripe.String(b.Email)
	}
	if b.Phone != "" {
		params.BillingDetails.Phone = stripe.String(b.Phone)
	}
	params.Context = ctx

	_, err := g.methods.Update(paymentMethodID, params)
	return err
}

func toIntentResult(pi *stripe.PaymentIntent) *IntentResult {
	res := &IntentResult{ID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status, res.Captured = StatusSucceeded, true
	case stripe.PaymentIntentStatusRequiresCapture:
		res.Status = StatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		res.Status = StatusProcessing
	case stripe.PaymentIntentStatusRequiresAction:
		res.Status = StatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		res.Status = StatusFailed
	default:
		res.Status = StatusRequiresConfirmation
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		res.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return res
}

// stripeError keeps the processor's own message when it has one.
func stripeError(fallback string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = fallback
		}
		return apperrors.Gateway(msg, err).WithCode(string(se.Code))
	}
	return apperrors.Network(fallback, err)
}
