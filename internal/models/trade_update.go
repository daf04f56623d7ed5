package models

import "gorm.io/gorm"

// Actions recorded in the trade audit trail.
const (
	UpdateActionBreakEven = "BE"
	UpdateActionClose     = "CLOSE"
	UpdateActionUpdate    = "UPDATE"
)

// ClosedBySignal is the sentinel value recorded when a trade is closed in
// response to a close signal rather than by the broker.
const ClosedBySignal = -1

// TradeUpdate is an append-only audit record of an action applied to a trade.
type TradeUpdate struct {
	gorm.Model
	TradeID   uint    `gorm:"index" json:"trade_id"`
	OrderID   int64   `json:"order_id"`
	AccountID int64   `json:"account_id"`
	Action    string  `json:"action"`
	Body      string  `json:"body"`  // the triggering message text
	Value     float64 `json:"value"` // new SL/TP where applicable, -1 on signal close
}
