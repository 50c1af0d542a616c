package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTenantDisabled means the tenant paused its schedule.
	ErrTenantDisabled = errors.New("tenant schedule disabled")
	// ErrNoDestination means the tenant never configured a delivery target.
	ErrNoDestination = errors.New("no destination configured")
	// ErrEmptyQueue means there is nothing to deliver for the tenant.
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrDeliveryFailed wraps a gateway send failure. The item stays queued.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// ValidationError rejects bad command input before anything touches storage.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
