package models

// Address is a billing or shipping address.
type Address struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1" validate:"required"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode" validate:"required"`
	Country   string `json:"country" validate:"required,len=2"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
}

// CheckoutDraft holds user-entered checkout fields until submission.
type CheckoutDraft struct {
	Billing                Address `json:"billing"`
	Shipping               Address `json:"shipping"`
	ShipToDifferentAddress bool    `json:"ship_to_different_address"`
	PaymentMethodID        string  `json:"payment_method" validate:"required"`
	// PaymentToken is the processor's reference for the entered card, e.g. a Stripe pm_ id.
	PaymentToken           string  `json:"payment_token,omitempty"`
	CustomerNote           string  `json:"customer_note,omitempty" validate:"max=1000"`
	TermsAccepted          bool    `json:"terms_accepted"`
	Amount                 int64   `json:"amount"`
	Currency               string  `json:"currency"`
}

// PaymentMetadata is attached to the order when a gateway confirmed the payment.
type PaymentMetadata struct {
	TransactionID string `json:"transaction_id"`
	Captured      bool   `json:"captured"`
}

// CheckoutInput is the order-write payload.
type CheckoutInput struct {
	ClientMutationID       string           `json:"client_mutation_id"`
	Billing                Address          `json:"billing"`
	Shipping               Address          `json:"shipping"`
	ShipToDifferentAddress bool             `json:"ship_to_different_address"`
	PaymentMethod          string           `json:"payment_method"`
	CustomerNote           string           `json:"customer_note,omitempty"`
	Payment                *PaymentMetadata `json:"payment,omitempty"`
	IsPaid                 bool             `json:"is_paid"`
}

// Order is the immutable result of a successful checkout.
type Order struct {
	ID        string         `json:"id"`
	Number    string         `json:"order_number"`
	Status    string         `json:"status"`
	LineItems []CartLineItem `json:"line_items"`
	Subtotal  string         `json:"subtotal"`
	Total     string         `json:"total"`
	Taxes     string         `json:"taxes"`
	Billing   Address        `json:"billing"`
	Shipping  Address        `json:"shipping"`
}
