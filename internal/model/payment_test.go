package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayment(status PaymentStatus) *Payment {
	return &Payment{
		ID:       "P1",
		OrderID:  "O1",
		UserID:   "U1",
		Amount:   decimal.NewFromInt(50000),
		Currency: "UZS",
		Method:   MethodClick,
		Status:   status,
	}
}

func TestPaymentSettle(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	p := newPayment(PaymentPending)

	require.NoError(t, p.Settle(ProviderUpdate{TransactionID: "T1"}, now))
	assert.Equal(t, PaymentCompleted, p.Status)
	assert.Equal(t, "T1", p.ExternalIDs["click"])
	assert.Equal(t, 1, p.TransactionInfo.Attempts)
	require.NotNil(t, p.CompletedAt)

	assert.ErrorIs(t, p.Settle(ProviderUpdate{TransactionID: "T1"}, now), ErrAlreadyApplied)
	assert.Equal(t, 1, p.TransactionInfo.Attempts, "duplicate does not count")
}

func TestPaymentMonotonic(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		from  PaymentStatus
		apply func(p *Payment) error
	}{
		{"completed to failed", PaymentCompleted, func(p *Payment) error { return p.Fail(ProviderUpdate{}, now) }},
		{"completed to processing", PaymentCompleted, func(p *Payment) error { return p.MarkProcessing(ProviderUpdate{}, now) }},
		{"failed to completed", PaymentFailed, func(p *Payment) error { return p.Settle(ProviderUpdate{}, now) }},
		{"cancelled to completed", PaymentCancelled, func(p *Payment) error { return p.Settle(ProviderUpdate{}, now) }},
		{"refunded to completed", PaymentRefunded, func(p *Payment) error { return p.Settle(ProviderUpdate{}, now) }},
		{"failed to refunded", PaymentFailed, func(p *Payment) error { return p.ApplyRefund(ProviderUpdate{}, now) }},
		{"pending to refunded", PaymentPending, func(p *Payment) error { return p.ApplyRefund(ProviderUpdate{}, now) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPayment(tt.from)
			err := tt.apply(p)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, p.Status)
		})
	}
}

func TestPaymentRefund(t *testing.T) {
	now := time.Now()
	p := newPayment(PaymentCompleted)

	tooMuch := decimal.NewFromInt(60000)
	assert.ErrorIs(t, p.ApplyRefund(ProviderUpdate{RefundAmount: &tooMuch}, now), ErrInvalidTransition)
	assert.Equal(t, PaymentCompleted, p.Status)

	part := decimal.NewFromInt(20000)
	require.NoError(t, p.ApplyRefund(ProviderUpdate{RefundAmount: &part, RefundReason: "damaged"}, now))
	assert.Equal(t, PaymentRefunded, p.Status)
	require.NotNil(t, p.Refund)
	assert.True(t, p.Refund.Amount.Equal(part))
	assert.Equal(t, "damaged", p.Refund.Reason)

	assert.ErrorIs(t, p.ApplyRefund(ProviderUpdate{}, now), ErrAlreadyApplied)
}

func TestPaymentFailAndProcessing(t *testing.T) {
	now := time.Now()
	p := newPayment(PaymentPending)

	require.NoError(t, p.MarkProcessing(ProviderUpdate{}, now))
	assert.ErrorIs(t, p.MarkProcessing(ProviderUpdate{}, now), ErrAlreadyApplied)

	require.NoError(t, p.Fail(ProviderUpdate{ErrorCode: "-5017", ErrorMessage: "insufficient funds"}, now))
	assert.Equal(t, PaymentFailed, p.Status)
	assert.Equal(t, "-5017", p.TransactionInfo.LastErrorCode)
	assert.ErrorIs(t, p.Fail(ProviderUpdate{}, now), ErrAlreadyApplied)

	c := newPayment(PaymentProcessing)
	require.NoError(t, c.Cancel(ProviderUpdate{}, now))
	assert.Equal(t, PaymentCancelled, c.Status)
}
