package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FavoriteWatch объединяет подписку пользователя на товар с текущей ценой и остатком товара.
type FavoriteWatch struct {
	SubscriptionID     string
	UserID             string
	ProductID          string
	ProductName        LocalizedText
	PriceWhenAdded     decimal.Decimal
	CurrentPrice       decimal.Decimal
	Stock              int
	PriceDropEnabled   bool
	BackInStockEnabled bool
	// OutOfStockSince: момент, когда сканер впервые увидел нулевой остаток; nil, если товар в наличии.
	OutOfStockSince *time.Time
}

// PriceDropped сообщает, опустилась ли цена ниже зафиксированной при добавлении в избранное.
func (w FavoriteWatch) PriceDropped() bool {
	return w.PriceDropEnabled && w.CurrentPrice.LessThan(w.PriceWhenAdded)
}

// BackInStock сообщает, вернулся ли в наличие товар, ранее отмеченный отсутствующим.
func (w FavoriteWatch) BackInStock() bool {
	return w.BackInStockEnabled && w.Stock > 0 && w.OutOfStockSince != nil
}
