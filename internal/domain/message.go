package domain

import (
	"strings"
	"time"
)

const conversationKeyPrefix = "dm:"

// Message represents a direct message between two members (dm_messages table)
type Message struct {
	CreatedAt       time.Time  `gorm:"column:created_at;index:idx_dm_conv_order,priority:2;not null" json:"created_at"`
	ReadAt          *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	ConversationKey string     `gorm:"column:conversation_key;type:varchar(130);index:idx_dm_conv_order,priority:1;not null" json:"conversation_key"`
	SenderID        string     `gorm:"column:sender_id;type:varchar(64);not null" json:"sender_id"`
	ReceiverID      string     `gorm:"column:receiver_id;type:varchar(64);index;not null" json:"receiver_id"`
	Content         string     `gorm:"column:content;type:text;not null" json:"content"`
	ID              uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IsRead          bool       `gorm:"column:is_read;default:false" json:"is_read"`
}

// TableName returns the table name
func (Message) TableName() string {
	return "dm_messages"
}

// Involves reports whether the message belongs to the unordered pair {a, b}
func (m *Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Clone returns a shallow copy that is safe to hand out to readers
func (m *Message) Clone() *Message {
	c := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// Less orders messages by creation time, ties broken by id
func Less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Compare is the three-way form of Less, usable with slices.SortFunc
func Compare(a, b *Message) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// NewConversationKey builds the symmetric key for the pair {a, b}
func NewConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return conversationKeyPrefix + a + ":" + b
}

// ParseConversationKey splits a key built by NewConversationKey
func ParseConversationKey(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, conversationKeyPrefix)
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// SendMessageRequest represents a send message request
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,max=64"`
	Content    string `json:"content" binding:"required"`
}

// ConversationResponse represents a conversation history response
type ConversationResponse struct {
	PeerID   string     `json:"peer_id"`
	Messages []*Message `json:"messages"`
}
