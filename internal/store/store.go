package store

import (
	"errors"
	"fmt"

	"mt5-signal-relay/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("record not found")

// Store is the persistence capability consumed by the orchestrator and the
// reconciler.
type Store interface {
	InsertMessage(msg *models.Message) error
	UpdateMessage(msg *models.Message) error
	MessageBySource(sourceMessageID, sourceChatID int64) (*models.Message, error)

	InsertTrades(trades []models.Trade) error
	UpdateTrade(trade *models.Trade) error
	TradesByMessageID(messageID uint) ([]models.Trade, error)
	LatestOpenTradesBySourceChat(chatName string) ([]models.Trade, error)
	OpenTradesByAccount(accountID int64) (map[uint][]models.Trade, error)

	InsertTradeUpdates(updates []models.TradeUpdate) error
}

// GormStore implements Store on top of a gorm database handle.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a Store backed by the given database.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.Named("store")}
}

// InsertMessage persists a new message row; the generated primary key is
// written back into msg.
func (s *GormStore) InsertMessage(msg *models.Message) error {
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	s.logger.Info("Message persisted",
		zap.Uint("message_id", msg.ID),
		zap.Int64("source_message_id", msg.SourceMessageID),
	)
	return nil
}

// UpdateMessage writes back the mutable fields of a message.
func (s *GormStore) UpdateMessage(msg *models.Message) error {
	result := s.db.Model(&models.Message{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"body":   msg.Body,
			"status": msg.Status,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update message %d: %w", msg.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update message %d: %w", msg.ID, ErrNotFound)
	}
	return nil
}

// MessageBySource looks up a message by its source chat linkage.
func (s *GormStore) MessageBySource(sourceMessageID, sourceChatID int64) (*models.Message, error) {
	var msg models.Message
	err := s.db.Where("source_message_id = ? AND source_chat_id = ?", sourceMessageID, sourceChatID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up message (%d, %d): %w", sourceMessageID, sourceChatID, err)
	}
	return &msg, nil
}

// InsertTrades persists a batch of trade legs.
func (s *GormStore) InsertTrades(trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := s.db.Create(&trades).Error; err != nil {
		return fmt.Errorf("failed to insert trades: %w", err)
	}
	return nil
}

// UpdateTrade writes back the mutable fields of a trade. The where clause is
// a compound guard over primary key, owning message and broker order id so a
// cross-linked row can never be updated by accident.
func (s *GormStore) UpdateTrade(trade *models.Trade) error {
	result := s.db.Model(&models.Trade{}).
		Where("id = ? AND message_id = ? AND order_id = ?", trade.ID, trade.MessageID, trade.OrderID).
		Updates(map[string]interface{}{
			"stop_loss":   trade.StopLoss,
			"take_profit": trade.TakeProfit,
			"break_even":  trade.BreakEven,
			"status":      trade.Status,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update trade %d: %w", trade.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		s.logger.Warn("No trade matched update guard",
			zap.Uint("trade_id", trade.ID),
			zap.Int64("order_id", trade.OrderID),
		)
	}
	return nil
}

// TradesByMessageID returns all trade legs owned by a message.
func (s *GormStore) TradesByMessageID(messageID uint) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Where("message_id = ?", messageID).Order("id").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades for message %d: %w", messageID, err)
	}
	return trades, nil
}

// LatestOpenTradesBySourceChat returns the open trades of the most recently
// inserted message for the given source channel. This is the fallback used
// when a signal does not reply to a specific message: last write wins across
// the whole channel, not per conversation thread.
func (s *GormStore) LatestOpenTradesBySourceChat(chatName string) ([]models.Trade, error) {
	var msg models.Message
	err := s.db.
		Joins("JOIN trades ON trades.message_id = messages.id").
		Where("messages.source_chat_name = ? AND trades.status = ?", chatName, models.TradeStatusOpen).
		Order("messages.id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest message with open trades for %q: %w", chatName, err)
	}

	var trades []models.Trade
	err = s.db.Where("message_id = ? AND status = ?", msg.ID, models.TradeStatusOpen).
		Order("id").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open trades for message %d: %w", msg.ID, err)
	}
	return trades, nil
}

// OpenTradesByAccount returns all open trades for an account, grouped by
// owning message id (sibling legs of the same signal).
func (s *GormStore) OpenTradesByAccount(accountID int64) (map[uint][]models.Trade, error) {
	var trades []models.Trade
	err := s.db.Where("account_id = ? AND status = ?", accountID, models.TradeStatusOpen).
		Order("id").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open trades for account %d: %w", accountID, err)
	}

	groups := make(map[uint][]models.Trade, len(trades))
	for _, t := range trades {
		groups[t.MessageID] = append(groups[t.MessageID], t)
	}
	return groups, nil
}

// InsertTradeUpdates appends a batch of audit rows. Audit rows are never
// mutated or deleted.
func (s *GormStore) InsertTradeUpdates(updates []models.TradeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.Create(&updates).Error; err != nil {
		return fmt.Errorf("failed to insert trade updates: %w", err)
	}
	return nil
}
