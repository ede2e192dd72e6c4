package ports

import "context"

// Mailer dispatches templated notifications. Delivery is best effort; callers
// log failures and move on.
type Mailer interface {
	Send(ctx context.Context, template, recipient string, vars map[string]string) error
}
