package domain

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Admin  bool
}
