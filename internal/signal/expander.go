package signal

import (
	"fmt"
	"strings"

	"mt5-signal-relay/internal/config"
)

// Order is one concrete order leg ready for submission to a broker account.
// Legs expanded from the same intent differ only in take profit.
type Order struct {
	Symbol     string // broker-native spelling
	Direction  string
	Volume     float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	MessageID  uint
	AccountID  int64
}

// Expand maps a create intent onto the ordered list of order legs for one
// account. The account's trade management table supplies the broker-native
// symbol, lot size and default leg count; an unknown symbol is a
// configuration error, not bad input, and is propagated.
//
// Channels often restate earlier take profits as a trade progresses, so only
// a trailing window becomes live legs: the last 2 when fewer than 6 were
// extracted, the last 3 otherwise. No take profits at all yields a single
// leg with TP 0.
func Expand(intent Intent, messageID uint, acct config.Account, balance float64) ([]Order, config.SymbolTradeConfig, error) {
	symCfg, err := resolveSymbol(intent.Symbol, acct.TradeManagement)
	if err != nil {
		return nil, config.SymbolTradeConfig{}, err
	}

	template := Order{
		Symbol:     symCfg.Symbol,
		Direction:  intent.Direction,
		Volume:     symCfg.Lot(balance),
		EntryPrice: intent.EntryPrice,
		MessageID:  messageID,
		AccountID:  acct.ID,
	}
	if intent.StopLoss != nil {
		template.StopLoss = *intent.StopLoss
	}

	selected := intent.TakeProfits
	if len(selected) >= 6 {
		selected = selected[len(selected)-3:]
	} else if len(selected) > 2 {
		selected = selected[len(selected)-2:]
	}

	if len(selected) == 0 {
		return []Order{template}, symCfg, nil
	}

	orders := make([]Order, 0, len(selected))
	for _, tp := range selected {
		leg := template
		leg.TakeProfit = tp
		orders = append(orders, leg)
	}
	return orders, symCfg, nil
}

// resolveSymbol finds the trade management entry for a signal symbol. Keys
// are matched case-insensitively, falling back to substring matching so a
// signal symbol like "US30" can hit a table key like "US30.cash".
func resolveSymbol(symbol string, mgmt map[string]config.SymbolTradeConfig) (config.SymbolTradeConfig, error) {
	key := strings.ToUpper(symbol)
	for k, v := range mgmt {
		if strings.ToUpper(k) == key {
			return v, nil
		}
	}
	for k, v := range mgmt {
		if strings.Contains(strings.ToUpper(k), key) {
			return v, nil
		}
	}
	return config.SymbolTradeConfig{}, fmt.Errorf("no trade management entry for symbol %q", symbol)
}
