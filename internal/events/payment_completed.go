package events

import (
	"encoding/json"
	"fmt"
)

const (
	PaymentCompletedEventName    = "PaymentCompleted"
	PaymentCompletedEventVersion = 1
)

type PaymentCompleted struct {
	OrderID string `json:"orderId" validate:"required"`
}

// legacyPaymentCompleted lists the bare shapes older payment producers emit:
// {"orderId": ...}, {"id": ...} and {"order": {"id": ...}}.
type legacyPaymentCompleted struct {
	OrderID string `json:"orderId"`
	ID      string `json:"id"`
	Order   *struct {
		ID string `json:"id"`
	} `json:"order"`
}

// ParsePaymentCompleted extracts the paid order id. Versioned envelopes are
// always accepted; bare legacy shapes only when acceptLegacy is set.
func ParsePaymentCompleted(body []byte, acceptLegacy bool) (string, error) {
	var probe struct {
		EventName *string `json:"eventName"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", fmt.Errorf("%w: decode payment completion: %v", ErrMalformedMessage, err)
	}

	if probe.EventName != nil {
		var ev EventEnvelope[PaymentCompleted]
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("%w: decode %s: %v", ErrMalformedMessage, PaymentCompletedEventName, err)
		}
		if err := ev.Validate(PaymentCompletedEventName, PaymentCompletedEventVersion); err != nil {
			return "", err
		}
		return ev.Payload.OrderID, nil
	}

	if !acceptLegacy {
		return "", fmt.Errorf("%w: unversioned payment completion", ErrMalformedMessage)
	}

	var legacy legacyPaymentCompleted
	if err := json.Unmarshal(body, &legacy); err != nil {
		return "", fmt.Errorf("%w: decode legacy payment completion: %v", ErrMalformedMessage, err)
	}
	candidates := []string{legacy.OrderID, legacy.ID}
	if legacy.Order != nil {
		candidates = append(candidates, legacy.Order.ID)
	}

	var id string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if id != "" && c != id {
			return "", fmt.Errorf("%w: conflicting order ids %q and %q", ErrMalformedMessage, id, c)
		}
		id = c
	}
	if id == "" {
		return "", fmt.Errorf("%w: payment completion without order id", ErrMalformedMessage)
	}
	return id, nil
}
