package chat

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	SessionID   string    `gorm:"primaryKey;type:varchar(26)" json:"session_id"` // ULID
	Owner       string    `gorm:"type:varchar(64);index;not null" json:"-"`
	DisplayName string    `gorm:"type:varchar(255);not null" json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string    `gorm:"type:varchar(26);not null;index:uniq_chat_msg_session_index,unique,priority:1" json:"session_id"`
	Owner        string    `gorm:"type:varchar(64);index;not null" json:"-"`
	MessageIndex int       `gorm:"not null;index:uniq_chat_msg_session_index,unique,priority:2" json:"index"`
	Role         string    `gorm:"type:varchar(16);not null" json:"role"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Timestamp    time.Time `gorm:"not null" json:"timestamp"`
}

func (Message) TableName() string { return "chat_messages" }

// SearchStat counts searches per owner, best-effort.
type SearchStat struct {
	Owner    string `gorm:"primaryKey;type:varchar(64)"`
	Searches int64  `gorm:"not null"`
}

func (SearchStat) TableName() string { return "search_stats" }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Session{}, &Message{}, &SearchStat{}, &ReplyJob{})
}
