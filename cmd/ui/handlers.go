package main

import (
	"encoding/json"
	"net/http"

	"mt5-signal-relay/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db}
}

// MessagesHandler returns the forwarded signal messages, most recent first.
func (h *APIHandler) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	var messages []models.Message
	if err := h.db.Order("id desc").Limit(200).Find(&messages).Error; err != nil {
		h.log.Error("Failed to get messages from database", zap.Error(err))
		http.Error(w, "Failed to get messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

// TradesHandler returns all trade legs, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	var trades []models.Trade
	if err := h.db.Order("id desc").Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// AccountStats holds per-account trade counters.
type AccountStats struct {
	AccountID    int64 `json:"account_id"`
	OpenTrades   int64 `json:"open_trades"`
	ClosedTrades int64 `json:"closed_trades"`
	BreakEvens   int64 `json:"break_evens"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	TotalMessages int64          `json:"total_messages"`
	Accounts      []AccountStats `json:"accounts"`
}

// StatisticsHandler aggregates per-account trade counters.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var response StatisticsResponse

	if err := h.db.Model(&models.Message{}).Count(&response.TotalMessages).Error; err != nil {
		h.log.Error("Failed to count messages", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	var accountIDs []int64
	if err := h.db.Model(&models.Trade{}).Distinct("account_id").Pluck("account_id", &accountIDs).Error; err != nil {
		h.log.Error("Failed to list accounts", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	for _, id := range accountIDs {
		stats := AccountStats{AccountID: id}
		h.db.Model(&models.Trade{}).
			Where("account_id = ? AND status = ?", id, models.TradeStatusOpen).
			Count(&stats.OpenTrades)
		h.db.Model(&models.Trade{}).
			Where("account_id = ? AND status = ?", id, models.TradeStatusClosed).
			Count(&stats.ClosedTrades)
		h.db.Model(&models.TradeUpdate{}).
			Where("account_id = ? AND action = ?", id, models.UpdateActionBreakEven).
			Count(&stats.BreakEvens)
		response.Accounts = append(response.Accounts, stats)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
