package order

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusProcessing      Status = "PROCESSING"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelRequested Status = "CANCEL_REQUESTED"
	StatusCancelled       Status = "CANCELLED"
	StatusReturnRequested Status = "RETURN_REQUESTED"
	StatusReturned        Status = "RETURNED"
)

// MinReasonLength applies to the trimmed customer reason.
const MinReasonLength = 5

type Action string

const (
	ActionCancel Action = "CANCEL"
	ActionReturn Action = "RETURN"
)

// adminTransitions lists every status an admin may move an order to. Leaving
// CANCEL_REQUESTED for PENDING or PROCESSING is a rejection and is further
// restricted to the status the request was filed from.
var adminTransitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {},
	StatusCancelRequested: {StatusCancelled, StatusPending, StatusProcessing},
	StatusReturnRequested: {StatusReturned, StatusDelivered},
	StatusCancelled:       {},
	StatusReturned:        {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := adminTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusReturned
}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if a != ActionCancel && a != ActionReturn {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

func (o *Order) CanTransitionTo(target Status) bool {
	return slices.Contains(adminTransitions[o.Status], target)
}

// AdminChange decides the effect of an admin setting the order to target.
// Entering CANCELLED or RETURNED owes the inventory a compensating INCREASE for
// every line.
func (o *Order) AdminChange(target Status, reason string) (Change, error) {
	if !target.Valid() {
		return Change{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if target == o.Status {
		return Change{}, fmt.Errorf("%w: order is already %s", ErrStatusUnchanged, target)
	}
	if !o.CanTransitionTo(target) {
		return Change{}, o.transitionError(target)
	}

	reason = strings.TrimSpace(reason)
	change := Change{Status: target, CancelReason: o.CancelReason}

	switch {
	case o.Status == StatusCancelRequested && (target == StatusPending || target == StatusProcessing):
		if o.RequestedFrom != "" && o.RequestedFrom != target {
			return Change{}, o.transitionError(target)
		}
		change.CancelReason = ""
	case o.Status == StatusReturnRequested && target == StatusDelivered:
		change.CancelReason = ""
	case target == StatusCancelled || target == StatusReturned:
		if reason != "" {
			change.CancelReason = reason
		}
		change.Adjustment = o.compensation(target)
	}
	return change, nil
}

// RequestChange decides the effect of the owner filing a cancel or return
// request. Stock is untouched until an admin approves.
func (o *Order) RequestChange(action Action, reason string) (Change, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return Change{}, ErrReasonTooShort
	}

	var target Status
	switch action {
	case ActionCancel:
		if o.Status != StatusPending && o.Status != StatusProcessing {
			return Change{}, o.transitionError(StatusCancelRequested)
		}
		target = StatusCancelRequested
	case ActionReturn:
		if o.Status != StatusDelivered {
			return Change{}, o.transitionError(StatusReturnRequested)
		}
		target = StatusReturnRequested
	default:
		return Change{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	return Change{Status: target, CancelReason: reason, RequestedFrom: o.Status}, nil
}

func (o *Order) compensation(target Status) *StockAdjustment {
	reason := ReasonOrderCancelled
	if target == StatusReturned {
		reason = ReasonOrderReturned
	}
	return &StockAdjustment{
		OrderID: o.ID,
		Type:    AdjustmentIncrease,
		Reason:  reason,
		Items:   slices.Clone(o.Items),
	}
}

func (o *Order) transitionError(target Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, o.Status, target)
}
