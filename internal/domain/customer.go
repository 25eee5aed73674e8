package domain

import "strings"

// CustomerIdentity — нормализованная личность покупателя, заполняется один раз на границе HTTP.
type CustomerIdentity struct {
	AccountID   string
	Email       string
	DisplayName string
	// Staff разрешает административные операции над заказами.
	Staff bool
}

// Anonymous сообщает, что запрос пришёл без аккаунта.
func (c CustomerIdentity) Anonymous() bool {
	return strings.TrimSpace(c.AccountID) == ""
}

// Owns проверяет, что заказ принадлежит этому покупателю или не привязан к аккаунту.
func (c CustomerIdentity) Owns(order Order) bool {
	if order.AccountID == "" {
		return true
	}
	return !c.Anonymous() && c.AccountID == order.AccountID
}
