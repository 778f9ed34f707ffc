package order

import "time"

type Item struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Shipping is the address snapshot captured when the order is placed.
type Shipping struct {
	FullName string `json:"fullName,omitempty"`
	Phone    string `json:"phone,omitempty"`
	City     string `json:"city,omitempty"`
	Address  string `json:"address,omitempty"`
}

type Order struct {
	ID           string  `json:"id"`
	UserID       string  `json:"userId"`
	Status       Status  `json:"status"`
	Items        []Item  `json:"items"`
	TotalAmount  float64 `json:"totalAmount"`
	CancelReason string  `json:"cancelReason,omitempty"`
	// RequestedFrom is the status the order held when a cancel or return was
	// requested; rejecting the request restores it.
	RequestedFrom Status `json:"-"`
	Shipping
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type AdjustmentType string

const (
	AdjustmentIncrease AdjustmentType = "INCREASE"
	AdjustmentDecrease AdjustmentType = "DECREASE"
)

type AdjustmentReason string

const (
	ReasonOrderCreated   AdjustmentReason = "ORDER_CREATED"
	ReasonOrderCancelled AdjustmentReason = "ORDER_CANCELLED"
	ReasonOrderReturned  AdjustmentReason = "ORDER_RETURNED"
)

// StockAdjustment is the batch of stock changes an order mutation owes the
// inventory service. It is persisted in the same transaction as the mutation.
type StockAdjustment struct {
	OrderID string
	Type    AdjustmentType
	Reason  AdjustmentReason
	Items   []Item
}

// Change is the outcome of a state-machine decision, applied by the repository
// under the order row lock.
type Change struct {
	Status        Status
	CancelReason  string
	RequestedFrom Status
	Adjustment    *StockAdjustment
}

func (o *Order) apply(c Change, at time.Time) {
	o.Status = c.Status
	o.CancelReason = c.CancelReason
	o.RequestedFrom = c.RequestedFrom
	o.UpdatedAt = at
}
