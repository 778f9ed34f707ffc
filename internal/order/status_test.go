package order

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusPending, StatusProcessing, StatusShipped, StatusDelivered,
	StatusCancelRequested, StatusCancelled, StatusReturnRequested, StatusReturned,
}

func TestAdminChange_Graph(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:         {StatusProcessing, StatusCancelled},
		StatusProcessing:      {StatusShipped, StatusCancelled},
		StatusShipped:         {StatusDelivered},
		StatusCancelRequested: {StatusCancelled, StatusPending},
		StatusReturnRequested: {StatusReturned, StatusDelivered},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			o := &Order{ID: "o1", Status: from, Items: []Item{{ProductID: "P1", Quantity: 2, Price: 10}}}
			if from == StatusCancelRequested {
				o.RequestedFrom = StatusPending
			}

			change, err := o.AdminChange(to, "")

			switch {
			case from == to:
				require.ErrorIs(t, err, ErrStatusUnchanged, "%s -> %s", from, to)
				require.ErrorIs(t, err, ErrValidation)
			case contains(allowed[from], to):
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, change.Status)
			default:
				require.ErrorIs(t, err, ErrTransitionNotAllowed, "%s -> %s", from, to)
				require.ErrorIs(t, err, ErrValidation)
				require.False(t, errors.Is(err, ErrNotFound))
			}
		}
	}
}

func TestAdminChange_CompensationOnlyOnTerminal(t *testing.T) {
	items := []Item{{ProductID: "P1", Quantity: 2, Price: 10}, {ProductID: "P2", Quantity: 1, Price: 5}}

	tests := []struct {
		from       Status
		to         Status
		wantReason AdjustmentReason
	}{
		{StatusPending, StatusCancelled, ReasonOrderCancelled},
		{StatusProcessing, StatusCancelled, ReasonOrderCancelled},
		{StatusCancelRequested, StatusCancelled, ReasonOrderCancelled},
		{StatusReturnRequested, StatusReturned, ReasonOrderReturned},
		{StatusPending, StatusProcessing, ""},
		{StatusShipped, StatusDelivered, ""},
	}

	for _, tc := range tests {
		o := &Order{ID: "o1", Status: tc.from, Items: items}
		change, err := o.AdminChange(tc.to, "")
		require.NoError(t, err)

		if tc.wantReason == "" {
			assert.Nil(t, change.Adjustment, "%s -> %s", tc.from, tc.to)
			continue
		}
		require.NotNil(t, change.Adjustment)
		assert.Equal(t, AdjustmentIncrease, change.Adjustment.Type)
		assert.Equal(t, tc.wantReason, change.Adjustment.Reason)
		assert.Equal(t, "o1", change.Adjustment.OrderID)
		assert.Equal(t, items, change.Adjustment.Items)
	}
}

func TestAdminChange_RejectRestoresRequestedFromAndClearsReason(t *testing.T) {
	o := &Order{Status: StatusCancelRequested, RequestedFrom: StatusProcessing, CancelReason: "changed my mind"}

	_, err := o.AdminChange(StatusPending, "")
	require.ErrorIs(t, err, ErrTransitionNotAllowed)

	change, err := o.AdminChange(StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, change.Status)
	assert.Empty(t, change.CancelReason)
	assert.Empty(t, change.RequestedFrom)
	assert.Nil(t, change.Adjustment)

	ret := &Order{Status: StatusReturnRequested, RequestedFrom: StatusDelivered, CancelReason: "broken on arrival"}
	change, err = ret.AdminChange(StatusDelivered, "")
	require.NoError(t, err)
	assert.Empty(t, change.CancelReason)
}

func TestAdminChange_ApproveKeepsOrReplacesReason(t *testing.T) {
	o := &Order{Status: StatusCancelRequested, CancelReason: "changed my mind"}

	change, err := o.AdminChange(StatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, "changed my mind", change.CancelReason)

	change, err = o.AdminChange(StatusCancelled, "  out of stock  ")
	require.NoError(t, err)
	assert.Equal(t, "out of stock", change.CancelReason)
}

func TestRequestChange(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		action  Action
		reason  string
		want    Status
		wantErr error
	}{
		{name: "cancel pending", from: StatusPending, action: ActionCancel, reason: "changed my mind", want: StatusCancelRequested},
		{name: "cancel processing", from: StatusProcessing, action: ActionCancel, reason: "too slow", want: StatusCancelRequested},
		{name: "cancel shipped", from: StatusShipped, action: ActionCancel, reason: "too slow", wantErr: ErrTransitionNotAllowed},
		{name: "cancel twice", from: StatusCancelRequested, action: ActionCancel, reason: "again please", wantErr: ErrTransitionNotAllowed},
		{name: "return delivered", from: StatusDelivered, action: ActionReturn, reason: "wrong size", want: StatusReturnRequested},
		{name: "return pending", from: StatusPending, action: ActionReturn, reason: "wrong size", wantErr: ErrTransitionNotAllowed},
		{name: "return cancelled", from: StatusCancelled, action: ActionReturn, reason: "wrong size", wantErr: ErrTransitionNotAllowed},
		{name: "four characters", from: StatusPending, action: ActionCancel, reason: "nope", wantErr: ErrReasonTooShort},
		{name: "exactly five", from: StatusPending, action: ActionCancel, reason: "nope!", want: StatusCancelRequested},
		{name: "padding does not count", from: StatusPending, action: ActionCancel, reason: "  abc   ", wantErr: ErrReasonTooShort},
		{name: "unknown action", from: StatusPending, action: Action("REFUND"), reason: "money back", wantErr: ErrInvalidAction},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := &Order{Status: tc.from}
			change, err := o.RequestChange(tc.action, tc.reason)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, change.Status)
			assert.Equal(t, tc.from, change.RequestedFrom)
			assert.Nil(t, change.Adjustment)
		})
	}
}

func TestParseStatusAndAction(t *testing.T) {
	s, err := ParseStatus(" cancelled ")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, s)

	_, err = ParseStatus("LOST")
	require.ErrorIs(t, err, ErrInvalidStatus)

	a, err := ParseAction("return")
	require.NoError(t, err)
	assert.Equal(t, ActionReturn, a)

	_, err = ParseAction("")
	require.ErrorIs(t, err, ErrInvalidAction)
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
