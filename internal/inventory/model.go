package inventory

type Product struct {
	ID    string  `json:"productId"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// StockUpdate sets absolute stock for a product, creating it when missing.
// Nil Name or Price leave the stored value untouched.
type StockUpdate struct {
	ProductID string
	Stock     int
	Name      *string
	Price     *float64
}

// Delta is a signed stock change for one product.
type Delta struct {
	ProductID string
	Change    int
}

// Adjustment is one stock adjustment batch as seen by a named consumer.
type Adjustment struct {
	Consumer string
	EventID  string
	OrderID  string
	Sequence int64
	Deltas   []Delta
}

type StockLevel struct {
	ProductID string
	Stock     int
}

type ApplyResult struct {
	// Duplicate is set when the consumer already applied this event; nothing
	// else is populated in that case.
	Duplicate bool
	// PreviousSequence is the highest sequence applied for the order before
	// this batch, zero when none.
	PreviousSequence int64
	Levels           []StockLevel
	Missing          []string
}
