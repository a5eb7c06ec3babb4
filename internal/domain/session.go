package domain

import "context"

// Session identifies the front-end user whose invoice view is being served.
// Token is forwarded to the invoicing API verbatim.
type Session struct {
	ID    string
	Token string
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// Customer is the subset of the upstream customer resource the BFA uses to
// fill in display names on invoices.
type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}
