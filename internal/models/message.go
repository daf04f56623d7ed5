package models

import (
	"time"

	"gorm.io/gorm"
)

// Message lifecycle statuses.
const (
	MessageStatusNew     = "new"
	MessageStatusUpdated = "updated"
	MessageStatusFailed  = "failed"
)

// Message represents one forwarded source chat message that passed the
// signal prefilter. A message owns the trades that were opened from it.
type Message struct {
	gorm.Model
	SourceMessageID int64     `gorm:"index:idx_source,unique" json:"source_message_id"`
	SourceChatID    int64     `gorm:"index:idx_source,unique" json:"source_chat_id"`
	SourceChatName  string    `gorm:"index" json:"source_chat_name"`
	DestChatID      int64     `json:"dest_chat_id"`
	DestMessageID   int64     `json:"dest_message_id"`
	Body            string    `json:"body"`
	Status          string    `gorm:"default:new" json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}
