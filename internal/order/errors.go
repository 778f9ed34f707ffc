package order

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the class of caller errors. They map to 4xx and are never retried.
	ErrValidation = errors.New("invalid request")
	ErrNotFound   = errors.New("order not found")
	ErrForbidden  = errors.New("forbidden")

	ErrTransitionNotAllowed = fmt.Errorf("%w: transition not allowed", ErrValidation)
	ErrStatusUnchanged      = fmt.Errorf("%w: status unchanged", ErrValidation)
	ErrInvalidStatus        = fmt.Errorf("%w: unknown status", ErrValidation)
	ErrInvalidAction        = fmt.Errorf("%w: unknown action", ErrValidation)
	ErrReasonTooShort       = fmt.Errorf("%w: reason must be at least %d characters", ErrValidation, MinReasonLength)
	ErrEmptyItems           = fmt.Errorf("%w: order has no items", ErrValidation)
	ErrMissingUser          = fmt.Errorf("%w: userId required", ErrValidation)
	ErrUnknownProduct       = fmt.Errorf("%w: unknown product", ErrValidation)

	ErrCatalogUnavailable = errors.New("catalog unavailable")
)
