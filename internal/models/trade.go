package models

import "gorm.io/gorm"

// Trade statuses. A trade only ever moves open -> closed.
const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Trade directions as they appear in signals and broker orders.
const (
	DirectionBuy       = "BUY"
	DirectionSell      = "SELL"
	DirectionBuyLimit  = "BUY LIMIT"
	DirectionBuyStop   = "BUY STOP"
	DirectionSellLimit = "SELL LIMIT"
	DirectionSellStop  = "SELL STOP"
)

// Trade represents one order leg placed with the broker. All legs sharing a
// MessageID were opened from the same signal and differ only in take profit
// (and, after a break-even move, stop loss).
type Trade struct {
	gorm.Model
	MessageID  uint    `gorm:"index" json:"message_id"`
	OrderID    int64   `gorm:"index" json:"order_id"`
	AccountID  int64   `gorm:"index" json:"account_id"`
	Symbol     string  `json:"symbol"` // broker-native spelling
	Direction  string  `json:"direction"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	BreakEven  float64 `json:"break_even"`
	Status     string  `gorm:"default:open" json:"status"`
}
