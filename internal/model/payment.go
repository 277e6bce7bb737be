package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	MethodClick  PaymentMethod = "click"
	MethodPayme  PaymentMethod = "payme"
	MethodUzcard PaymentMethod = "uzcard"
	MethodHumo   PaymentMethod = "humo"
	MethodCard   PaymentMethod = "card"
	MethodCash   PaymentMethod = "cash"
)

// TransactionInfo содержит служебные данные обработки платежа провайдером.
type TransactionInfo struct {
	Fee              decimal.Decimal `json:"fee"`
	Attempts         int             `json:"attempts"`
	LastErrorCode    string          `json:"lastErrorCode,omitempty"`
	LastErrorMessage string          `json:"lastErrorMessage,omitempty"`
	RawPayload       string          `json:"rawPayload,omitempty"`
}

// Refund описывает возврат средств по платежу.
type Refund struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	RefundedAt time.Time       `json:"refundedAt"`
}

// Payment: одна попытка оплаты заказа.
type Payment struct {
	ID              string
	OrderID         string
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	Method          PaymentMethod
	Status          PaymentStatus
	ExternalIDs     map[string]string
	TransactionInfo TransactionInfo
	Refund          *Refund
	CreatedAt       time.Time
	ProcessingAt    *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
	UpdatedAt       time.Time
}

// ProviderUpdate содержит данные обратного вызова, применяемые к платежу.
type ProviderUpdate struct {
	Provider      string
	TransactionID string
	ErrorCode     string
	ErrorMessage  string
	RefundAmount  *decimal.Decimal
	RefundReason  string
	RawPayload    string
}

func (p *Payment) record(u ProviderUpdate, now time.Time) {
	if u.TransactionID != "" {
		if p.ExternalIDs == nil {
			p.ExternalIDs = make(map[string]string)
		}
		provider := u.Provider
		if provider == "" {
			provider = string(p.Method)
		}
		p.ExternalIDs[provider] = u.TransactionID
	}
	p.TransactionInfo.Attempts++
	if u.RawPayload != "" {
		p.TransactionInfo.RawPayload = u.RawPayload
	}
	p.UpdatedAt = now
}

func (p *Payment) invalid(to PaymentStatus) error {
	return fmt.Errorf("%w: payment %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, to)
}

func (p *Payment) open() bool {
	return p.Status == PaymentPending || p.Status == PaymentProcessing
}

// MarkProcessing переводит ожидающий платёж в обработку.
func (p *Payment) MarkProcessing(u ProviderUpdate, now time.Time) error {
	switch p.Status {
	case PaymentProcessing:
		return ErrAlreadyApplied
	case PaymentPending:
		p.record(u, now)
		p.Status = PaymentProcessing
		p.ProcessingAt = &now
		return nil
	default:
		return p.invalid(PaymentProcessing)
	}
}

// Settle завершает платёж успешно.
func (p *Payment) Settle(u ProviderUpdate, now time.Time) error {
	if p.Status == PaymentCompleted {
		return ErrAlreadyApplied
	}
	if !p.open() {
		return p.invalid(PaymentCompleted)
	}
	p.record(u, now)
	p.Status = PaymentCompleted
	p.CompletedAt = &now
	return nil
}

// Fail фиксирует отказ провайдера. Статус failed конечный.
func (p *Payment) Fail(u ProviderUpdate, now time.Time) error {
	if p.Status == PaymentFailed {
		return ErrAlreadyApplied
	}
	if !p.open() {
		return p.invalid(PaymentFailed)
	}
	p.record(u, now)
	p.Status = PaymentFailed
	p.FailedAt = &now
	p.TransactionInfo.LastErrorCode = u.ErrorCode
	p.TransactionInfo.LastErrorMessage = u.ErrorMessage
	return nil
}

// Cancel отменяет незавершённый платёж.
func (p *Payment) Cancel(u ProviderUpdate, now time.Time) error {
	if p.Status == PaymentCancelled {
		return ErrAlreadyApplied
	}
	if !p.open() {
		return p.invalid(PaymentCancelled)
	}
	p.record(u, now)
	p.Status = PaymentCancelled
	p.CancelledAt = &now
	return nil
}

// ApplyRefund оформляет возврат. Допустим только из completed; без суммы возвращается весь платёж.
func (p *Payment) ApplyRefund(u ProviderUpdate, now time.Time) error {
	if p.Status == PaymentRefunded {
		return ErrAlreadyApplied
	}
	if p.Status != PaymentCompleted {
		return p.invalid(PaymentRefunded)
	}

	amount := p.Amount
	if u.RefundAmount != nil {
		amount = *u.RefundAmount
	}
	if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
		return fmt.Errorf("%w: refund amount %s out of range for payment %s", ErrInvalidTransition, amount, p.ID)
	}

	p.record(u, now)
	p.Status = PaymentRefunded
	p.RefundedAt = &now
	p.Refund = &Refund{
		Amount:     amount,
		Reason:     u.RefundReason,
		RefundedAt: now,
	}
	return nil
}
