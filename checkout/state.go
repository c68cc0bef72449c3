// Package checkout runs the two-phase checkout: payment confirmation, then order creation.
package checkout

import (
	"fmt"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
)

type State string

const (
	StateIdle              State = "idle"
	StateDraftReady        State = "draft_ready"
	StateProcessingPayment State = "processing_payment"
	StateSubmittingOrder   State = "submitting_order"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition happens without user action.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type event string

const (
	evDraftValid       event = "draft_valid"
	evDraftInvalid     event = "draft_invalid"
	evPaymentStarted   event = "payment_started"
	evPaymentSkipped   event = "payment_skipped"
	evPaymentConfirmed event = "payment_confirmed"
	evPaymentFailed    event = "payment_failed"
	evOrderCreated     event = "order_created"
	evOrderFailed      event = "order_failed"
	evRetryPayment     event = "retry_payment"
	evRetryOrder       event = "retry_order"
	evReset            event = "reset"
)

type edge struct {
	from State
	ev   event
}

// transitions is the only place checkout states change.
var transitions = map[edge]State{
	{StateIdle, evDraftValid}:                    StateDraftReady,
	{StateIdle, evDraftInvalid}:                  StateIdle,
	{StateDraftReady, evPaymentStarted}:          StateProcessingPayment,
	{StateDraftReady, evPaymentSkipped}:          StateSubmittingOrder,
	{StateDraftReady, evPaymentFailed}:           StateFailed,
	{StateProcessingPayment, evPaymentConfirmed}: StateSubmittingOrder,
	{StateProcessingPayment, evPaymentFailed}:    StateFailed,
	{StateSubmittingOrder, evOrderCreated}:       StateCompleted,
	{StateSubmittingOrder, evOrderFailed}:        StateFailed,
	{StateFailed, evRetryPayment}:                StateProcessingPayment,
	{StateFailed, evRetryOrder}:                  StateSubmittingOrder,
	{StateFailed, evReset}:                       StateIdle,
}

func transition(from State, ev event) (State, error) {
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return from, fmt.Errorf("%s on %s: %w", ev, from, apperrors.ErrInvalidTransition)
	}
	return to, nil
}
