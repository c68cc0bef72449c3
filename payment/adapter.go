package payment

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
)

// Phase is the per-attempt lifecycle of the adapter.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseMounted       Phase = "mounted"
	PhaseValidating    Phase = "validating"
	PhaseConfirming    Phase = "confirming"
	PhaseSucceeded     Phase = "succeeded"
	PhaseFailed        Phase = "failed"
)

// PaymentIntentState is a read-only copy of the intent the adapter owns.
type PaymentIntentState struct {
	ClientSecret       string
	Status             IntentStatus
	PaymentReferenceID string
}

// ElementHandle identifies a mounted payment element.
type ElementHandle struct {
	clientSecret    string
	paymentMethodID string
}

func (h ElementHandle) PaymentMethodID() string { return h.paymentMethodID }

type ValidationResult struct {
	Complete bool
	Message  string
}

// ConfirmResult is the outcome of Confirm. RedirectURL is set when the shopper must complete an
// out-of-band step; the attempt then stays in PhaseConfirming until the return URL is handled.
type ConfirmResult struct {
	Status             IntentStatus
	PaymentReferenceID string
	Captured           bool
	RedirectURL        string
}

func (r ConfirmResult) RedirectRequired() bool { return r.RedirectURL != "" }

// Adapter drives one payment attempt against a Gateway.
type Adapter struct {
	gateway   Gateway
	returnURL string
	logger    *zap.Logger

	mu     sync.Mutex
	phase  Phase
	intent PaymentIntentState
	handle *ElementHandle
}

func NewAdapter(gateway Gateway, returnURL string, log *zap.Logger) *Adapter {
	return &Adapter{
		gateway:   gateway,
		returnURL: returnURL,
		logger:    logger.OrNop(log),
		phase:     PhaseUninitialized,
	}
}

// Prepare creates an intent for amount (minor units) and returns its client secret.
func (a *Adapter) Prepare(ctx context.Context, amount int64, currency string) (string, error) {
	if amount <= 0 || currency == "" {
		return "", apperrors.Validation("payment amount is missing", map[string]string{"amount": fmt.Sprint(amount)})
	}
	secret, err := a.gateway.PrepareIntent(ctx, amount, currency)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.intent = PaymentIntentState{ClientSecret: secret, Status: StatusRequiresConfirmation, PaymentReferenceID: IntentID(secret)}
	a.phase = PhaseUninitialized
	a.handle = nil
	a.mu.Unlock()
	return secret, nil
}

// Mount binds the payment method the shopper entered to clientSecret. A failed attempt may be
// mounted again.
func (a *Adapter) Mount(clientSecret, paymentMethodID string) (ElementHandle, error) {
	if clientSecret == "" {
		return ElementHandle{}, apperrors.Validation("payment is not ready", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.phase {
	case PhaseConfirming, PhaseSucceeded:
		return ElementHandle{}, fmt.Errorf("mount in phase %s: %w", a.phase, apperrors.ErrInvalidTransition)
	}
	if a.intent.ClientSecret != clientSecret {
		a.intent = PaymentIntentState{ClientSecret: clientSecret, Status: StatusRequiresConfirmation, PaymentReferenceID: IntentID(clientSecret)}
	}
	h := ElementHandle{clientSecret: clientSecret, paymentMethodID: paymentMethodID}
	a.handle = &h
	a.phase = PhaseMounted
	return h, nil
}

// Validate checks the mounted element is complete enough to confirm.
func (a *Adapter) Validate() ValidationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil || (a.phase != PhaseMounted && a.phase != PhaseValidating) {
		return ValidationResult{Message: "payment details are not ready"}
	}
	if a.handle.paymentMethodID == "" {
		return ValidationResult{Message: "enter your payment details"}
	}
	a.phase = PhaseValidating
	return ValidationResult{Complete: true}
}

// Confirm confirms the intent, redirecting only if the processor requires it.
func (a *Adapter) Confirm(ctx context.Context, handle ElementHandle, clientSecret string, billing BillingDetails) (ConfirmResult, error) {
	a.mu.Lock()
	if a.phase != PhaseValidating || a.handle == nil || *a.handle != handle || handle.clientSecret != clientSecret {
		phase := a.phase
		a.mu.Unlock()
		return ConfirmResult{}, fmt.Errorf("confirm in phase %s: %w", phase, apperrors.ErrInvalidTransition)
	}
	a.phase = PhaseConfirming
	a.mu.Unlock()

	res, err := a.gateway.ConfirmIntent(context.WithoutCancel(ctx), ConfirmRequest{
		ClientSecret:    clientSecret,
		PaymentMethodID: handle.paymentMethodID,
		Billing:         billing,
		ReturnURL:       a.returnURL,
	})
	if err != nil {
		a.finish(PhaseFailed, StatusFailed, "")
		a.logger.Warn("Payment confirmation failed", zap.String("intent_id", IntentID(clientSecret)), zap.Error(err))
		if apperrors.KindOf(err) == apperrors.KindInternal {
			err = apperrors.Gateway("payment was not confirmed", err)
		}
		return ConfirmResult{}, err
	}

	out := ConfirmResult{Status: res.Status, PaymentReferenceID: res.ID, Captured: res.Captured}
	switch {
	case res.Status == StatusSucceeded:
		a.finish(PhaseSucceeded, res.Status, res.ID)
		return out, nil
	case res.Status == StatusRequiresAction && res.RedirectURL != "":
		a.finish(PhaseConfirming, res.Status, res.ID)
		out.RedirectURL = res.RedirectURL
		return out, nil
	case res.Status == StatusProcessing:
		a.finish(PhaseConfirming, res.Status, res.ID)
		return out, nil
	default:
		a.finish(PhaseFailed, StatusFailed, res.ID)
		return out, apperrors.Gateway("your payment was declined", nil).WithCode(string(res.Status))
	}
}

// SecretCheck is the result of re-reading an intent before a retry or after a redirect.
type SecretCheck struct {
	Usable      bool
	Status      IntentStatus
	ReferenceID string
	Captured    bool
}

// SecretUsable reports whether the current client secret can still be confirmed, or has
// already succeeded, so a retry needs no new intent. Captured is only meaningful when the
// status is succeeded.
func (a *Adapter) SecretUsable(ctx context.Context) SecretCheck {
	a.mu.Lock()
	secret := a.intent.ClientSecret
	a.mu.Unlock()
	if secret == "" {
		return SecretCheck{}
	}

	res, err := a.gateway.RetrieveIntent(ctx, secret)
	if err != nil {
		a.logger.Warn("Could not check payment intent", zap.String("intent_id", IntentID(secret)), zap.Error(err))
		return SecretCheck{}
	}
	check := SecretCheck{Status: res.Status, ReferenceID: res.ID, Captured: res.Captured}
	switch res.Status {
	case StatusSucceeded:
		a.finish(PhaseSucceeded, res.Status, res.ID)
		check.Usable = true
	case StatusFailed:
	default:
		check.Usable = true
	}
	return check
}

func (a *Adapter) State() PaymentIntentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intent
}

func (a *Adapter) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Adapter) finish(phase Phase, status IntentStatus, ref string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = phase
	a.intent.Status = status
	if ref != "" {
		a.intent.PaymentReferenceID = ref
	}
}
