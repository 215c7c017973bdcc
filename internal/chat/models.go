package chat

import "time"

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

type Session struct {
	ID        string    `gorm:"primaryKey;size:32"`
	UserID    uint64    `gorm:"index;not null"`
	Title     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;precision:6;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"index;not null;precision:6;autoUpdateTime:false"`

	Messages []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message rows hold only ciphertext; see vault.Seal.
type Message struct {
	ID               string    `gorm:"primaryKey;size:32"`
	ChatID           string    `gorm:"size:32;index:idx_chat_msg_chat_created,priority:1;not null"`
	EncryptedContent string    `gorm:"type:text;not null"`
	Sender           Sender    `gorm:"type:varchar(16);not null"`
	CreatedAt        time.Time `gorm:"index:idx_chat_msg_chat_created,priority:2;not null;precision:6;autoCreateTime:false"`
}

func (Message) TableName() string { return "chat_messages" }

// HistoryEntry is one decrypted message as returned by GetHistory.
type HistoryEntry struct {
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Session) Summary() SessionSummary {
	return SessionSummary{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}
