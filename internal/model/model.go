// Package model содержит доменные сущности сервиса уведомлений маркетплейса.
package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidTransition возвращается при попытке перехода, нарушающего жизненный цикл сущности.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrAlreadyApplied возвращается, если сущность уже находится в запрошенном состоянии.
var ErrAlreadyApplied = errors.New("transition already applied")

// Locale описывает язык текста уведомления.
type Locale string

const (
	LocaleRU Locale = "ru"
	LocaleUZ Locale = "uz"
	LocaleEN Locale = "en"
)

// Locales перечисляет обязательные языки уведомлений.
var Locales = []Locale{LocaleRU, LocaleUZ, LocaleEN}

// LocalizedText содержит текст на всех поддерживаемых языках.
type LocalizedText struct {
	RU string `json:"ru"`
	UZ string `json:"uz"`
	EN string `json:"en"`
}

// Get возвращает текст для указанного языка.
func (t LocalizedText) Get(l Locale) string {
	switch l {
	case LocaleUZ:
		return t.UZ
	case LocaleEN:
		return t.EN
	default:
		return t.RU
	}
}

// Complete сообщает, заполнены ли все три языка.
func (t LocalizedText) Complete() bool {
	return t.RU != "" && t.UZ != "" && t.EN != ""
}

// Role описывает роль пользователя маркетплейса.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// User представляет зарегистрированного пользователя маркетплейса.
type User struct {
	ID       string
	Name     string
	Role     Role
	IsActive bool
	Locale   Locale
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// OrderPaymentStatus описывает состояние оплаты заказа.
type OrderPaymentStatus string

const (
	OrderPaymentPending    OrderPaymentStatus = "pending"
	OrderPaymentProcessing OrderPaymentStatus = "processing"
	OrderPaymentPaid       OrderPaymentStatus = "paid"
	OrderPaymentFailed     OrderPaymentStatus = "failed"
	OrderPaymentRefunded   OrderPaymentStatus = "refunded"
)

// Order описывает заказ. Сервис изменяет только Status и PaymentStatus.
type Order struct {
	ID            string
	OrderNumber   string
	CustomerID    string
	SellerID      string
	Status        OrderStatus
	PaymentStatus OrderPaymentStatus
	TotalAmount   decimal.Decimal
	Currency      string
}

// SupportReply описывает ответ службы поддержки на обращение.
type SupportReply struct {
	MessageID    string
	AuthorUserID string
	Subject      string
	Reply        string
}
