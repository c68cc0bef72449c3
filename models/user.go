package models

// GuestUserID is the id the backend reports for an unauthenticated placeholder customer.
const GuestUserID = "guest"

// User is the identity returned by the remote identity gateway.
type User struct {
	ID      string            `json:"id"`
	Email   string            `json:"email"`
	Profile map[string]string `json:"profile,omitempty"`
}

// Authenticated reports whether u is a real identity rather than the guest placeholder.
func (u *User) Authenticated() bool {
	return u != nil && u.ID != "" && u.ID != GuestUserID
}
