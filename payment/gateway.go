package payment

import (
	"context"
	"strings"

	"github.com/yashrajoria/storefront-core/models"
)

// IntentStatus is the processor-neutral status of a payment intent.
type IntentStatus string

const (
	StatusRequiresConfirmation IntentStatus = "requires_confirmation"
	StatusRequiresAction       IntentStatus = "requires_action"
	StatusProcessing           IntentStatus = "processing"
	StatusSucceeded            IntentStatus = "succeeded"
	StatusFailed               IntentStatus = "failed"
)

type BillingDetails struct {
	Name    string
	Email   string
	Phone   string
	Address models.Address
}

// BillingFromAddress builds billing details from a checkout address.
func BillingFromAddress(a models.Address) BillingDetails {
	return BillingDetails{
		Name:    strings.TrimSpace(a.FirstName + " " + a.LastName),
		Email:   a.Email,
		Phone:   a.Phone,
		Address: a,
	}
}

type ConfirmRequest struct {
	ClientSecret    string
	PaymentMethodID string
	Billing         BillingDetails
	ReturnURL       string
}

type IntentResult struct {
	ID          string
	Status      IntentStatus
	Captured    bool
	RedirectURL string
}

// Gateway is the third-party payment processor.
type Gateway interface {
	PrepareIntent(ctx context.Context, amount int64, currency string) (string, error)
	ConfirmIntent(ctx context.Context, req ConfirmRequest) (*IntentResult, error)
	RetrieveIntent(ctx context.Context, clientSecret string) (*IntentResult, error)
}

// IntentID extracts the intent id from a client secret of the form "<id>_secret_<nonce>".
func IntentID(clientSecret string) string {
	if i := strings.Index(clientSecret, "_secret_"); i > 0 {
		return clientSecret[:i]
	}
	return clientSecret
}
