package gateway

import "fmt"

type GatewayError struct {
	Code       string
	Err        error
	Message    string
	StatusCode int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error: %s (status: %d)", e.Message, e.StatusCode)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the call may be repeated safely. The refund
// transaction id doubles as the idempotency key, so retrying a 5xx or
// rate-limit response cannot double-refund.
func (e *GatewayError) IsRetryable() bool {
	if e.StatusCode >= 500 || e.StatusCode == 429 {
		return true
	}
	return e.Code == "processor_unavailable"
}

type gatewayErrorResponse struct {
	Err     string `json:"error"`
	Message string `json:"message"`
}
