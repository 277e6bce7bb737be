package templates

import "github.com/mmeshcher/marketplace-notifier/internal/model"

func def(ru, uz, en Text) Definition {
	return Definition{model.LocaleRU: ru, model.LocaleUZ: uz, model.LocaleEN: en}
}

var fallbackDefinition = def(
	Text{"Новое уведомление", "У вас новое событие по вашему аккаунту."},
	Text{"Yangi bildirishnoma", "Hisobingizda yangi hodisa bor."},
	Text{"New notification", "There is a new event on your account."},
)

var definitions = map[Key]Definition{
	{model.TypeOrderCreated, AudienceCustomer}: def(
		Text{"Заказ {{.OrderNumber}} оформлен", "Ваш заказ {{.OrderNumber}} на сумму {{.Amount}} {{.Currency}} принят."},
		Text{"{{.OrderNumber}} buyurtma rasmiylashtirildi", "{{.Amount}} {{.Currency}} miqdoridagi {{.OrderNumber}} buyurtmangiz qabul qilindi."},
		Text{"Order {{.OrderNumber}} placed", "Your order {{.OrderNumber}} for {{.Amount}} {{.Currency}} has been received."},
	),
	{model.TypeOrderCreated, AudienceSeller}: def(
		Text{"Новый заказ {{.OrderNumber}}", "Поступил заказ {{.OrderNumber}} на сумму {{.Amount}} {{.Currency}}."},
		Text{"Yangi buyurtma {{.OrderNumber}}", "{{.Amount}} {{.Currency}} miqdoridagi {{.OrderNumber}} buyurtma keldi."},
		Text{"New order {{.OrderNumber}}", "Order {{.OrderNumber}} for {{.Amount}} {{.Currency}} has arrived."},
	),
	{model.TypeOrderCreated, AudienceAdmin}: def(
		Text{"Создан заказ {{.OrderNumber}}", "На платформе создан заказ {{.OrderNumber}}: {{.Amount}} {{.Currency}}."},
		Text{"{{.OrderNumber}} buyurtma yaratildi", "Platformada {{.OrderNumber}} buyurtma yaratildi: {{.Amount}} {{.Currency}}."},
		Text{"Order {{.OrderNumber}} created", "Order {{.OrderNumber}} was created on the platform: {{.Amount}} {{.Currency}}."},
	),
	{model.TypeOrderConfirmed, AudienceCustomer}: def(
		Text{"Заказ {{.OrderNumber}} подтверждён", "Продавец подтвердил ваш заказ {{.OrderNumber}}."},
		Text{"{{.OrderNumber}} buyurtma tasdiqlandi", "Sotuvchi {{.OrderNumber}} buyurtmangizni tasdiqladi."},
		Text{"Order {{.OrderNumber}} confirmed", "The seller has confirmed your order {{.OrderNumber}}."},
	),
	{model.TypeOrderShipped, AudienceCustomer}: def(
		Text{"Заказ {{.OrderNumber}} отправлен", "Ваш заказ {{.OrderNumber}} передан в доставку."},
		Text{"{{.OrderNumber}} buyurtma jo'natildi", "{{.OrderNumber}} buyurtmangiz yetkazib berishga topshirildi."},
		Text{"Order {{.OrderNumber}} shipped", "Your order {{.OrderNumber}} is on its way."},
	),
	{model.TypeOrderDelivered, AudienceCustomer}: def(
		Text{"Заказ {{.OrderNumber}} доставлен", "Заказ {{.OrderNumber}} доставлен. Спасибо за покупку!"},
		Text{"{{.OrderNumber}} buyurtma yetkazildi", "{{.OrderNumber}} buyurtma yetkazildi. Xaridingiz uchun rahmat!"},
		Text{"Order {{.OrderNumber}} delivered", "Order {{.OrderNumber}} has been delivered. Thank you for shopping!"},
	),
	{model.TypeOrderCancelled, AudienceCustomer}: def(
		Text{"Заказ {{.OrderNumber}} отменён", "Ваш заказ {{.OrderNumber}} был отменён."},
		Text{"{{.OrderNumber}} buyurtma bekor qilindi", "{{.OrderNumber}} buyurtmangiz bekor qilindi."},
		Text{"Order {{.OrderNumber}} cancelled", "Your order {{.OrderNumber}} has been cancelled."},
	),
	{model.TypeOrderCancelled, AudienceSeller}: def(
		Text{"Заказ {{.OrderNumber}} отменён", "Покупатель отменил заказ {{.OrderNumber}}."},
		Text{"{{.OrderNumber}} buyurtma bekor qilindi", "Xaridor {{.OrderNumber}} buyurtmani bekor qildi."},
		Text{"Order {{.OrderNumber}} cancelled", "The customer cancelled order {{.OrderNumber}}."},
	),
	{model.TypePaymentReceived, AudienceCustomer}: def(
		Text{"Оплата получена", "Оплата {{.Amount}} {{.Currency}} по заказу {{.OrderNumber}} ({{.PaymentMethod}}) прошла успешно."},
		Text{"To'lov qabul qilindi", "{{.OrderNumber}} buyurtma bo'yicha {{.Amount}} {{.Currency}} to'lov ({{.PaymentMethod}}) muvaffaqiyatli o'tdi."},
		Text{"Payment received", "Payment of {{.Amount}} {{.Currency}} for order {{.OrderNumber}} ({{.PaymentMethod}}) succeeded."},
	),
	{model.TypePaymentReceived, AudienceSeller}: def(
		Text{"Заказ {{.OrderNumber}} оплачен", "Покупатель оплатил заказ {{.OrderNumber}}: {{.Amount}} {{.Currency}}. Можно собирать заказ."},
		Text{"{{.OrderNumber}} buyurtma to'landi", "Xaridor {{.OrderNumber}} buyurtmani to'ladi: {{.Amount}} {{.Currency}}. Buyurtmani tayyorlashingiz mumkin."},
		Text{"Order {{.OrderNumber}} paid", "The customer paid {{.Amount}} {{.Currency}} for order {{.OrderNumber}}. You can prepare it now."},
	),
	{model.TypePaymentReceived, AudienceAdmin}: def(
		Text{"Платёж по заказу {{.OrderNumber}}", "Получен платёж {{.Amount}} {{.Currency}} через {{.PaymentMethod}}."},
		Text{"{{.OrderNumber}} buyurtma to'lovi", "{{.PaymentMethod}} orqali {{.Amount}} {{.Currency}} to'lov qabul qilindi."},
		Text{"Payment for order {{.OrderNumber}}", "Received {{.Amount}} {{.Currency}} via {{.PaymentMethod}}."},
	),
	{model.TypePaymentFailed, AudienceCustomer}: def(
		Text{"Оплата не прошла", "Не удалось оплатить заказ {{.OrderNumber}}: {{.ErrorMessage}}. Попробуйте ещё раз."},
		Text{"To'lov amalga oshmadi", "{{.OrderNumber}} buyurtmani to'lab bo'lmadi: {{.ErrorMessage}}. Qayta urinib ko'ring."},
		Text{"Payment failed", "Payment for order {{.OrderNumber}} failed: {{.ErrorMessage}}. Please try again."},
	),
	{model.TypePaymentFailed, AudienceAdmin}: def(
		Text{"Ошибка оплаты заказа {{.OrderNumber}}", "Платёж {{.Amount}} {{.Currency}} через {{.PaymentMethod}} отклонён: {{.ErrorMessage}}."},
		Text{"{{.OrderNumber}} buyurtma to'lovida xato", "{{.PaymentMethod}} orqali {{.Amount}} {{.Currency}} to'lov rad etildi: {{.ErrorMessage}}."},
		Text{"Payment failure on order {{.OrderNumber}}", "Payment of {{.Amount}} {{.Currency}} via {{.PaymentMethod}} was declined: {{.ErrorMessage}}."},
	),
	{model.TypePaymentRefunded, AudienceCustomer}: def(
		Text{"Возврат средств", "По заказу {{.OrderNumber}} возвращено {{.RefundAmount}} {{.Currency}}."},
		Text{"Mablag' qaytarildi", "{{.OrderNumber}} buyurtma bo'yicha {{.RefundAmount}} {{.Currency}} qaytarildi."},
		Text{"Refund issued", "{{.RefundAmount}} {{.Currency}} has been refunded for order {{.OrderNumber}}."},
	),
	{model.TypePaymentRefunded, AudienceSeller}: def(
		Text{"Возврат по заказу {{.OrderNumber}}", "Покупателю возвращено {{.RefundAmount}} {{.Currency}}."},
		Text{"{{.OrderNumber}} buyurtma bo'yicha qaytarish", "Xaridorga {{.RefundAmount}} {{.Currency}} qaytarildi."},
		Text{"Refund on order {{.OrderNumber}}", "{{.RefundAmount}} {{.Currency}} was refunded to the customer."},
	),
	{model.TypePaymentRefunded, AudienceAdmin}: def(
		Text{"Возврат по заказу {{.OrderNumber}}", "Оформлен возврат {{.RefundAmount}} {{.Currency}} ({{.PaymentMethod}})."},
		Text{"{{.OrderNumber}} buyurtma bo'yicha qaytarish", "{{.RefundAmount}} {{.Currency}} qaytarish rasmiylashtirildi ({{.PaymentMethod}})."},
		Text{"Refund on order {{.OrderNumber}}", "A refund of {{.RefundAmount}} {{.Currency}} was issued ({{.PaymentMethod}})."},
	),
	{model.TypeCustomerSupportReply, AudienceSupportAuthor}: def(
		Text{"Ответ поддержки: {{.Subject}}", "{{.Reply}}"},
		Text{"Qo'llab-quvvatlash javobi: {{.Subject}}", "{{.Reply}}"},
		Text{"Support reply: {{.Subject}}", "{{.Reply}}"},
	),
	{model.TypeFavoritePriceDrop, AudienceSubscriber}: def(
		Text{"Цена снижена", "{{.ProductName.RU}} теперь стоит {{.NewPrice}} {{.Currency}} вместо {{.OldPrice}} {{.Currency}}."},
		Text{"Narx tushdi", "{{.ProductName.UZ}} endi {{.OldPrice}} {{.Currency}} o'rniga {{.NewPrice}} {{.Currency}} turadi."},
		Text{"Price drop", "{{.ProductName.EN}} is now {{.NewPrice}} {{.Currency}} instead of {{.OldPrice}} {{.Currency}}."},
	),
	{model.TypeFavoriteBackInStock, AudienceSubscriber}: def(
		Text{"Снова в наличии", "{{.ProductName.RU}} снова в продаже."},
		Text{"Yana sotuvda", "{{.ProductName.UZ}} yana sotuvda."},
		Text{"Back in stock", "{{.ProductName.EN}} is back in stock."},
	),
	{model.TypeAdminAlert, AudienceAdmin}: def(
		Text{"Требуется внимание", "{{.AlertText}}"},
		Text{"E'tibor talab qilinadi", "{{.AlertText}}"},
		Text{"Attention required", "{{.AlertText}}"},
	),
}

// Default возвращает реестр со встроенными шаблонами маркетплейса.
func Default() (*Registry, error) {
	return NewRegistry(definitions, fallbackDefinition)
}
