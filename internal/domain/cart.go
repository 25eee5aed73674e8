package domain

import "time"

// CartOwner идентифицирует владельца корзины: аккаунт или анонимный токен.
type CartOwner struct {
	AccountID      string
	AnonymousToken string
}

// Empty сообщает, что владелец не определён.
func (o CartOwner) Empty() bool {
	return o.AccountID == "" && o.AnonymousToken == ""
}

// Cart — изменяемая корзина до оформления заказа.
type Cart struct {
	ID        string
	Owner     CartOwner
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine — позиция корзины; (cart, product, variant) уникальна.
type CartLine struct {
	ProductID int64
	Variant   string
	Quantity  int
}

// Key возвращает ключ остатка для позиции.
func (l CartLine) Key() StockKey {
	return StockKey{ProductID: l.ProductID, Variant: l.Variant}
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}
