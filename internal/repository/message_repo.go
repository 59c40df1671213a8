package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository direct message data access interface
type MessageRepository interface {
	Insert(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error)
	QueryConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error)
	FindByID(ctx context.Context, id uint64) (*domain.Message, error)
	MarkAsRead(ctx context.Context, id uint64, readerID string) (*domain.Message, bool, error)
}

// MessageRepoOption configures a messageRepository
type MessageRepoOption func(*messageRepository)

// WithClock overrides the store clock used for created_at
func WithClock(now func() time.Time) MessageRepoOption {
	return func(r *messageRepository) { r.now = now }
}

// WithMaxContentLength overrides the content limit in runes
func WithMaxContentLength(n int) MessageRepoOption {
	return func(r *messageRepository) { r.maxContentLength = n }
}

type messageRepository struct {
	db               *gorm.DB
	now              func() time.Time
	maxContentLength int
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB, opts ...MessageRepoOption) MessageRepository {
	r := &messageRepository{
		db:               db,
		now:              time.Now,
		maxContentLength: common.DefaultMaxContentLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert validates and stores a message; id and created_at are assigned here
func (r *messageRepository) Insert(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	trimmed, err := common.ValidateMessage(senderID, receiverID, content, r.maxContentLength)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ConversationKey: domain.NewConversationKey(senderID, receiverID),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         trimmed,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 타임스탬프는 저장 시점에 서버 시계로 부여
		msg.CreatedAt = r.now().UTC().Truncate(time.Millisecond)
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// QueryConversation returns the pair's messages ordered by created_at, then id.
// A positive limit keeps only the most recent messages.
func (r *messageRepository) QueryConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	var messages []*domain.Message
	key := domain.NewConversationKey(userA, userB)

	query := r.db.WithContext(ctx).Where("conversation_key = ?", key)
	if limit <= 0 {
		err := query.Clauses(orderBy(false)).Find(&messages).Error
		return messages, err
	}

	if err := query.Clauses(orderBy(true)).Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// FindByID finds a message by ID
func (r *messageRepository) FindByID(ctx context.Context, id uint64) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkAsRead flips is_read for the receiver; the bool reports whether this call changed it
func (r *messageRepository) MarkAsRead(ctx context.Context, id uint64, readerID string) (*domain.Message, bool, error) {
	var (
		msg     domain.Message
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return err
		}
		// 수신자만 읽음 처리 가능
		if msg.ReceiverID != readerID {
			return gorm.ErrRecordNotFound
		}
		if msg.IsRead {
			return nil
		}

		now := r.now().UTC().Truncate(time.Millisecond)
		result := tx.Model(&domain.Message{}).
			Where("id = ? AND is_read = ?", id, false).
			Updates(map[string]interface{}{"is_read": true, "read_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			changed = true
			msg.IsRead = true
			msg.ReadAt = &now
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, common.ErrMessageNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return &msg, changed, nil
}

func orderBy(desc bool) clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "created_at"}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}
}

// MigrateMessages creates or updates the dm_messages table only; see migration.Run
func MigrateMessages(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Message{})
}
