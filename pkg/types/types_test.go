package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusFetched, StatusNoActionNeeded, true},
		{StatusFetched, StatusPaymentCanceledSuccess, true},
		{StatusFetched, StatusPaymentCanceledError, true},
		{StatusPaymentCanceledError, StatusPaymentCanceledSuccess, true},
		{StatusPaymentCanceledError, StatusPaymentCanceledError, true},
		{StatusPaymentCanceledError, StatusNoActionNeeded, true},
		{StatusNoActionNeeded, StatusPaymentCanceledSuccess, false},
		{StatusPaymentCanceledSuccess, StatusPaymentCanceledError, false},
		{StatusPaymentCanceledSuccess, StatusFetched, false},
		{StatusFetched, StatusFetched, false},
		{StatusFetched, Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		parsed, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("fetched_from_magento")
	assert.Error(t, err)
}

func TestStepAccepts(t *testing.T) {
	assert.True(t, StepMatchPayments.Accepts(StatusFetched))
	assert.True(t, StepMatchPayments.Accepts(StatusPaymentCanceledError))
	assert.False(t, StepMatchPayments.Accepts(StatusNoActionNeeded))
	assert.False(t, StepMatchPayments.Accepts(StatusPaymentCanceledSuccess))

	assert.True(t, StepRetryFailed.Accepts(StatusPaymentCanceledError))
	assert.False(t, StepRetryFailed.Accepts(StatusFetched))
}

func TestProgressRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  ProgressRecord
		wantErr bool
	}{
		{"fetched", ProgressRecord{OrderID: "A", Status: StatusFetched}, false},
		{"no action", ProgressRecord{OrderID: "A", Status: StatusNoActionNeeded}, false},
		{"success", ProgressRecord{OrderID: "A", Status: StatusPaymentCanceledSuccess, PaymentID: "p1"}, false},
		{"error", ProgressRecord{OrderID: "A", Status: StatusPaymentCanceledError, PaymentID: "p1", ErrorMessage: "boom"}, false},
		{"empty order id", ProgressRecord{Status: StatusFetched}, true},
		{"unknown status", ProgressRecord{OrderID: "A", Status: "done"}, true},
		{"success without payment", ProgressRecord{OrderID: "A", Status: StatusPaymentCanceledSuccess}, true},
		{"fetched with payment", ProgressRecord{OrderID: "A", Status: StatusFetched, PaymentID: "p1"}, true},
		{"error without message", ProgressRecord{OrderID: "A", Status: StatusPaymentCanceledError, PaymentID: "p1"}, true},
		{"success with message", ProgressRecord{OrderID: "A", Status: StatusPaymentCanceledSuccess, PaymentID: "p1", ErrorMessage: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), r.EndExclusive())
	assert.Equal(t, "2024-01-01..2024-01-31", r.String())

	_, err = ParseDateRange("2024/01/01", "2024-01-31")
	assert.ErrorContains(t, err, "date_from")

	_, err = ParseDateRange("2024-01-01", "31-01-2024")
	assert.ErrorContains(t, err, "date_to")

	_, err = ParseDateRange("2024-02-01", "2024-01-01")
	assert.Error(t, err)
}

func TestCancelResult(t *testing.T) {
	ok := CancelSuccess(200)
	assert.True(t, ok.OK())
	assert.False(t, ok.AuthFailure())

	failed := CancelFailure(401, "API returned status 401: unauthorized")
	assert.False(t, failed.OK())
	assert.True(t, failed.AuthFailure())

	assert.Equal(t, "unknown error", CancelFailure(0, "").Detail)
}

func TestComponentError(t *testing.T) {
	base := errors.New("connection refused")
	err := NewComponentError(ComponentOrderDB, base)

	assert.EqualError(t, err, "order-db: connection refused")
	assert.ErrorIs(t, err, base)

	var ce *ComponentError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ComponentOrderDB, ce.Component)

	assert.Nil(t, NewComponentError(ComponentConfig, nil))
}
