package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
	"github.com/yashrajoria/storefront-core/models"
	"github.com/yashrajoria/storefront-core/payment"
	pkgaws "github.com/yashrajoria/storefront-core/pkg/aws"
)

type OrderGateway interface {
	SubmitOrder(ctx context.Context, input models.CheckoutInput) (*models.Order, error)
}

// PaymentAdapter is the per-attempt payment surface. *payment.Adapter satisfies it.
type PaymentAdapter interface {
	Prepare(ctx context.Context, amount int64, currency string) (string, error)
	Mount(clientSecret, paymentMethodID string) (payment.ElementHandle, error)
	Validate() payment.ValidationResult
	Confirm(ctx context.Context, handle payment.ElementHandle, clientSecret string, billing payment.BillingDetails) (payment.ConfirmResult, error)
	SecretUsable(ctx context.Context) payment.SecretCheck
	State() payment.PaymentIntentState
}

// CartSync is the part of the cart synchronizer checkout drives after an order is created.
type CartSync interface {
	Clear(ctx context.Context)
	Refresh(ctx context.Context) error
}

type SessionStore interface {
	Clear(ctx context.Context) error
}

type failureStage int

const (
	stageNone failureStage = iota
	stagePayment
	stageOrder
	stagePartial
)

// View is the read-only checkout state handed to subscribers.
type View struct {
	State            State
	Processing       bool
	RequestID        string
	Order            *models.Order
	PaymentReference string
	RedirectURL      string

	Err       error
	ErrorKind apperrors.Kind
	Message   string

	CanRetry            bool
	CanRetryPayment     bool
	CanReset            bool
	NeedsReconciliation bool
}

type Option func(*Orchestrator)

// WithPayments enables gateway confirmation for card methods.
func WithPayments(p PaymentAdapter) Option {
	return func(o *Orchestrator) { o.payments = p }
}

func WithReconciler(r Reconciler) Option {
	return func(o *Orchestrator) { o.reconciler = r }
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMethodLookup supplies the methods already resolved for this storefront. Ids it does not
// know fall back to payment.ResolveMethod.
func WithMethodLookup(lookup func(id string) (payment.Method, bool)) Option {
	return func(o *Orchestrator) { o.lookupMethod = lookup }
}

// Orchestrator runs one checkout. Transitions are serialized by an in-flight guard: a call made
// while another is pending returns ErrBusy and has no effect. Remote calls already started are
// never cancelled, even when the caller's context is.
type Orchestrator struct {
	orders     OrderGateway
	payments   PaymentAdapter
	cart       CartSync
	sessions   SessionStore
	reconciler Reconciler
	metrics    Metrics
	now        func() time.Time
	logger     *zap.Logger

	lookupMethod func(id string) (payment.Method, bool)

	mu          sync.Mutex
	state       State
	busy        bool
	requestID   string
	draft       models.CheckoutDraft
	method      payment.Method
	secret      string
	paid        bool
	captured    bool
	paymentRef  string
	redirectURL string
	order       *models.Order
	err         error
	stage       failureStage
	reconciled  bool

	listenersMu  sync.Mutex
	listeners    map[int]func(View)
	nextListener int
	notifyMu     sync.Mutex
}

func NewOrchestrator(orders OrderGateway, cart CartSync, sessions SessionStore, log *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		orders:    orders,
		cart:      cart,
		sessions:  sessions,
		metrics:   nopMetrics{},
		now:       time.Now,
		logger:    logger.OrNop(log),
		state:     StateIdle,
		requestID: uuid.NewString(),
		listeners: make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reconciler == nil {
		o.reconciler = logReconciler{logger: o.logger}
	}
	return o
}

func (o *Orchestrator) resolveMethod(id string) payment.Method {
	if o.lookupMethod != nil {
		if m, ok := o.lookupMethod(id); ok {
			return m
		}
	}
	return payment.ResolveMethod(id)
}

// Submit validates draft and runs the attempt as far as it can go.
func (o *Orchestrator) Submit(ctx context.Context, draft models.CheckoutDraft) (View, error) {
	if err := o.acquire(); err != nil {
		return o.View(), err
	}
	defer o.release()

	if s := o.currentState(); s != StateIdle {
		return o.View(), fmt.Errorf("submit in %s: %w", s, apperrors.ErrInvalidTransition)
	}
	ctx = logger.WithRequestID(ctx, o.RequestID())

	if err := ValidateDraft(draft); err != nil {
		o.fail(ctx, evDraftInvalid, stageNone, err)
		return o.View(), err
	}

	o.mu.Lock()
	o.draft = draft
	o.method = o.resolveMethod(draft.PaymentMethodID)
	o.err, o.stage = nil, stageNone
	method := o.method
	o.mu.Unlock()
	o.fire(evDraftValid)

	if !method.RequiresGateway() || o.payments == nil {
		o.fire(evPaymentSkipped)
		return o.View(), o.submitOrder(ctx)
	}

	if err := o.ensureSecret(ctx); err != nil {
		o.fail(ctx, evPaymentFailed, stagePayment, err)
		return o.View(), err
	}
	o.fire(evPaymentStarted)
	if done, err := o.confirmPayment(ctx); !done {
		return o.View(), err
	}
	return o.View(), o.submitOrder(ctx)
}

// Retry continues a failed attempt with the same request id. After a partial failure only the
// order write is repeated; payment is never confirmed twice.
func (o *Orchestrator) Retry(ctx context.Context) (View, error) {
	if err := o.acquire(); err != nil {
		return o.View(), err
	}
	defer o.release()

	o.mu.Lock()
	state, stage, secret := o.state, o.stage, o.secret
	o.mu.Unlock()
	if state != StateFailed {
		return o.View(), fmt.Errorf("retry in %s: %w", state, apperrors.ErrNotRetryable)
	}
	ctx = logger.WithRequestID(ctx, o.RequestID())

	switch stage {
	case stagePartial, stageOrder:
		o.logger.Info("Retrying order write",
			zap.String("request_id", o.RequestID()),
			zap.Bool("payment_captured", stage == stagePartial),
		)
		o.fire(evRetryOrder)
		return o.View(), o.submitOrder(ctx)

	case stagePayment:
		if secret != "" {
			check := o.payments.SecretUsable(ctx)
			if !check.Usable {
				return o.View(), fmt.Errorf("payment can no longer be confirmed: %w", apperrors.ErrNotRetryable)
			}
			if check.Status == payment.StatusSucceeded {
				o.fire(evRetryPayment)
				if done, err := o.afterConfirm(ctx, check.Status, check.ReferenceID, check.Captured, ""); !done {
					return o.View(), err
				}
				return o.View(), o.submitOrder(ctx)
			}
		}
		o.fire(evRetryPayment)
		if err := o.ensureSecret(ctx); err != nil {
			o.fail(ctx, evPaymentFailed, stagePayment, err)
			return o.View(), err
		}
		if done, err := o.confirmPayment(ctx); !done {
			return o.View(), err
		}
		return o.View(), o.submitOrder(ctx)
	}
	return o.View(), apperrors.ErrNotRetryable
}

// ResumeAfterRedirect picks up an attempt whose confirmation needed an out-of-band step.
func (o *Orchestrator) ResumeAfterRedirect(ctx context.Context) (View, error) {
	if err := o.acquire(); err != nil {
		return o.View(), err
	}
	defer o.release()

	if s := o.currentState(); s != StateProcessingPayment || o.payments == nil {
		return o.View(), fmt.Errorf("resume in %s: %w", s, apperrors.ErrInvalidTransition)
	}
	ctx = logger.WithRequestID(ctx, o.RequestID())

	check := o.payments.SecretUsable(ctx)
	switch {
	case check.Status == payment.StatusSucceeded:
		if done, err := o.afterConfirm(ctx, check.Status, check.ReferenceID, check.Captured, ""); !done {
			return o.View(), err
		}
		return o.View(), o.submitOrder(ctx)
	case check.Usable && (check.Status == payment.StatusRequiresAction || check.Status == payment.StatusProcessing):
		return o.View(), nil
	default:
		err := apperrors.Gateway("Your payment was not completed.", nil).WithCode(string(check.Status))
		o.fail(ctx, evPaymentFailed, stagePayment, err)
		return o.View(), err
	}
}

// Reset starts a new attempt after a failure. A captured payment without an order cannot be
// reset; it must go through reconciliation.
func (o *Orchestrator) Reset() error {
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()

	o.mu.Lock()
	if o.stage == stagePartial {
		ref := o.paymentRef
		o.mu.Unlock()
		return fmt.Errorf("payment %s already captured: %w", ref, apperrors.ErrNotRetryable)
	}
	to, err := transition(o.state, evReset)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = to
	o.requestID = uuid.NewString()
	o.secret, o.paymentRef, o.redirectURL = "", "", ""
	o.paid, o.captured, o.reconciled = false, false, false
	o.order, o.err, o.stage = nil, nil, stageNone
	o.mu.Unlock()

	o.notify()
	return nil
}

// Subscribe registers fn for view changes and returns a func that removes it.
func (o *Orchestrator) Subscribe(fn func(View)) func() {
	o.listenersMu.Lock()
	id := o.nextListener
	o.nextListener++
	o.listeners[id] = fn
	o.listenersMu.Unlock()

	return func() {
		o.listenersMu.Lock()
		delete(o.listeners, id)
		o.listenersMu.Unlock()
	}
}

// Detach drops every listener. Calls in flight keep running to completion.
func (o *Orchestrator) Detach() {
	o.listenersMu.Lock()
	o.listeners = make(map[int]func(View))
	o.listenersMu.Unlock()
}

func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := View{
		State:            o.state,
		Processing:       o.busy,
		RequestID:        o.requestID,
		Order:            o.order,
		PaymentReference: o.paymentRef,
		RedirectURL:      o.redirectURL,
	}
	if o.err != nil {
		v.Err = o.err
		v.ErrorKind = apperrors.KindOf(o.err)
		v.Message = apperrors.UserMessage(o.err)
	}
	if o.state == StateFailed {
		v.CanRetry = true
		v.CanRetryPayment = o.stage == stagePayment
		v.NeedsReconciliation = o.stage == stagePartial
		v.CanReset = o.stage != stagePartial
	}
	return v
}

func (o *Orchestrator) RequestID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requestID
}

func (o *Orchestrator) ensureSecret(ctx context.Context) error {
	o.mu.Lock()
	if o.secret != "" {
		o.mu.Unlock()
		return nil
	}
	amount, currency := o.draft.Amount, o.draft.Currency
	o.mu.Unlock()

	secret, err := o.payments.Prepare(context.WithoutCancel(ctx), amount, currency)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.secret = secret
	o.mu.Unlock()
	return nil
}

// confirmPayment reports true once the state has moved on to SubmittingOrder.
func (o *Orchestrator) confirmPayment(ctx context.Context) (bool, error) {
	o.mu.Lock()
	secret, draft := o.secret, o.draft
	o.mu.Unlock()

	handle, err := o.payments.Mount(secret, draft.PaymentToken)
	if err != nil {
		o.fail(ctx, evPaymentFailed, stagePayment, err)
		return false, err
	}
	if v := o.payments.Validate(); !v.Complete {
		err := apperrors.Validation(v.Message, map[string]string{"payment_token": "required"})
		o.fail(ctx, evPaymentFailed, stagePayment, err)
		return false, err
	}

	res, err := o.payments.Confirm(context.WithoutCancel(ctx), handle, secret, payment.BillingFromAddress(draft.Billing))
	if err != nil {
		o.fail(ctx, evPaymentFailed, stagePayment, err)
		return false, err
	}
	return o.afterConfirm(ctx, res.Status, res.PaymentReferenceID, res.Captured, res.RedirectURL)
}

func (o *Orchestrator) afterConfirm(ctx context.Context, status payment.IntentStatus, ref string, captured bool, redirect string) (bool, error) {
	switch {
	case status == payment.StatusSucceeded:
		o.mu.Lock()
		o.paid, o.captured, o.paymentRef, o.redirectURL = true, captured, ref, ""
		method := o.method
		o.mu.Unlock()
		o.record(ctx, pkgaws.MetricPaymentConfirmed, map[string]string{"Method": method.Kind.String()})
		o.fire(evPaymentConfirmed)
		return true, nil

	case redirect != "" || status == payment.StatusRequiresAction || status == payment.StatusProcessing:
		o.mu.Lock()
		o.redirectURL = redirect
		o.mu.Unlock()
		o.log(ctx).Info("Payment awaiting customer action", zap.String("status", string(status)))
		o.notify()
		return false, nil
	}

	err := apperrors.Gateway("Your payment was declined.", nil).WithCode(string(status))
	o.fail(ctx, evPaymentFailed, stagePayment, err)
	return false, err
}

func (o *Orchestrator) submitOrder(ctx context.Context) error {
	o.mu.Lock()
	input := o.checkoutInputLocked()
	method := o.method
	o.mu.Unlock()

	start := o.now()
	order, err := o.orders.SubmitOrder(context.WithoutCancel(ctx), input)
	o.recordLatency(ctx, pkgaws.MetricOrderWriteLatency, o.now().Sub(start), map[string]string{"Method": method.Kind.String()})
	if err != nil {
		return o.orderFailed(ctx, err)
	}

	o.mu.Lock()
	o.order, o.err, o.stage = order, nil, stageNone
	o.mu.Unlock()
	o.fire(evOrderCreated)

	o.log(ctx).Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number),
	)
	o.record(ctx, pkgaws.MetricCheckoutCompleted, map[string]string{"Method": method.Kind.String()})
	o.afterCompletion(ctx)
	return nil
}

func (o *Orchestrator) orderFailed(ctx context.Context, err error) error {
	o.mu.Lock()
	paid := o.paid
	o.mu.Unlock()

	if !paid {
		o.fail(ctx, evOrderFailed, stageOrder, err)
		return err
	}

	perr := apperrors.PartialFailure("payment captured but order not recorded", err)
	o.fail(ctx, evOrderFailed, stagePartial, perr)
	o.record(ctx, pkgaws.MetricPartialFailure, nil)
	o.reconcile(ctx, err)
	return perr
}

// reconcile raises the manual reconciliation event at most once per attempt.
func (o *Orchestrator) reconcile(ctx context.Context, cause error) {
	o.mu.Lock()
	if o.reconciled {
		o.mu.Unlock()
		return
	}
	o.reconciled = true
	ev := ReconciliationEvent{
		Type:             EventPaymentCapturedOrderMissing,
		RequestID:        o.requestID,
		PaymentReference: o.paymentRef,
		PaymentMethod:    o.draft.PaymentMethodID,
		Amount:           o.draft.Amount,
		Currency:         o.draft.Currency,
		BillingEmail:     o.draft.Billing.Email,
		Error:            cause.Error(),
		OccurredAt:       o.now().UTC(),
	}
	o.mu.Unlock()

	if err := o.reconciler.Reconcile(context.WithoutCancel(ctx), ev); err != nil {
		o.mu.Lock()
		o.reconciled = false
		o.mu.Unlock()
	}
}

func (o *Orchestrator) afterCompletion(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	if o.sessions != nil {
		if err := o.sessions.Clear(detached); err != nil {
			o.log(ctx).Warn("Failed to clear session after order", zap.Error(err))
		}
	}
	if o.cart != nil {
		o.cart.Clear(detached)
		if err := o.cart.Refresh(detached); err != nil {
			o.log(ctx).Warn("Cart refresh after order failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) checkoutInputLocked() models.CheckoutInput {
	d := o.draft
	input := models.CheckoutInput{
		ClientMutationID:       o.requestID,
		Billing:                d.Billing,
		Shipping:               d.Billing,
		ShipToDifferentAddress: d.ShipToDifferentAddress,
		PaymentMethod:          d.PaymentMethodID,
		CustomerNote:           d.CustomerNote,
	}
	if d.ShipToDifferentAddress {
		input.Shipping = d.Shipping
	}
	if o.paid {
		input.Payment = &models.PaymentMetadata{TransactionID: o.paymentRef, Captured: o.captured}
		input.IsPaid = o.captured
	}
	return input
}

func (o *Orchestrator) fail(ctx context.Context, ev event, stage failureStage, err error) {
	o.mu.Lock()
	from := o.state
	if to, terr := transition(from, ev); terr == nil {
		o.state = to
	}
	o.err, o.stage = err, stage
	method := o.method
	o.mu.Unlock()

	kind := apperrors.KindOf(err)
	if kind == apperrors.KindValidation {
		o.log(ctx).Debug("Checkout draft rejected", zap.Error(err))
	} else {
		o.log(ctx).Warn("Checkout attempt failed",
			zap.String("from", string(from)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		o.record(ctx, pkgaws.MetricCheckoutFailed, map[string]string{"Kind": string(kind), "Method": method.Kind.String()})
	}
	o.notify()
}

func (o *Orchestrator) fire(ev event) {
	o.mu.Lock()
	to, err := transition(o.state, ev)
	if err == nil {
		o.state = to
	}
	o.mu.Unlock()
	if err != nil {
		o.logger.Error("Unexpected checkout transition", zap.Error(err))
		return
	}
	o.notify()
}

func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return apperrors.ErrBusy
	}
	o.busy = true
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) currentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) notify() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	v := o.View()
	o.listenersMu.Lock()
	fns := make([]func(View), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.listenersMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (o *Orchestrator) log(ctx context.Context) *zap.Logger {
	return o.logger.With(zap.String("request_id", logger.RequestID(ctx)))
}

func (o *Orchestrator) record(ctx context.Context, name string, dims map[string]string) {
	if err := o.metrics.RecordCount(context.WithoutCancel(ctx), name, dims); err != nil {
		o.logger.Debug("Failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}

func (o *Orchestrator) recordLatency(ctx context.Context, name string, d time.Duration, dims map[string]string) {
	if err := o.metrics.RecordLatency(context.WithoutCancel(ctx), name, d, dims); err != nil {
		o.logger.Debug("Failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}
