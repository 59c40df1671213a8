package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockMessageRepository is a mock implementation of MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Insert(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) QueryConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, userA, userB, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByID(ctx context.Context, id uint64) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) MarkAsRead(ctx context.Context, id uint64, readerID string) (*domain.Message, bool, error) {
	args := m.Called(ctx, id, readerID)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*domain.Message), args.Bool(1), args.Error(2)
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	events []*domain.Event
}

func (p *capturePublisher) Publish(topic string, evt *domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, evt)
}

func stored(id uint64, from, to, content string) *domain.Message {
	return &domain.Message{
		ID:              id,
		ConversationKey: domain.NewConversationKey(from, to),
		SenderID:        from,
		ReceiverID:      to,
		Content:         content,
		CreatedAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMessageService_SendPublishesEcho(t *testing.T) {
	repo := new(MockMessageRepository)
	pub := &capturePublisher{}
	svc := NewMessageService(repo, pub, MessageServiceConfig{})
	ctx := context.Background()

	repo.On("Insert", ctx, "u1", "u2", "hi").Return(stored(1, "u1", "u2", "hi"), nil)

	msg, err := svc.Send(ctx, "u1", "u2", "  hi ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.ID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.ConversationTopic("u1", "u2"), pub.topics[0])
	assert.Equal(t, domain.EventMessageCreated, pub.events[0].Type)
	assert.Equal(t, "hi", pub.events[0].Message.Content)
	repo.AssertExpectations(t)
}

func TestMessageService_SendSelfAddressedIsRejectedBeforeStore(t *testing.T) {
	repo := new(MockMessageRepository)
	pub := &capturePublisher{}
	svc := NewMessageService(repo, pub, MessageServiceConfig{})

	_, err := svc.Send(context.Background(), "u1", "u1", "hi")

	assert.ErrorIs(t, err, common.ErrValidation)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, pub.events)
}

func TestMessageService_SendEmptyContentIsRejected(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := NewMessageService(repo, nil, MessageServiceConfig{})

	_, err := svc.Send(context.Background(), "u1", "u2", "   ")

	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageService_SendStoreFailure(t *testing.T) {
	repo := new(MockMessageRepository)
	pub := &capturePublisher{}
	svc := NewMessageService(repo, pub, MessageServiceConfig{})
	ctx := context.Background()
	cause := errors.New("connection refused")

	repo.On("Insert", ctx, "u1", "u2", "hi").Return(nil, cause).Once()

	_, err := svc.Send(ctx, "u1", "u2", "hi")

	assert.ErrorIs(t, err, common.ErrSendFailed)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, pub.events, "failed sends are not echoed")
	repo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestMessageService_GetConversationClampsLimit(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := NewMessageService(repo, nil, MessageServiceConfig{DefaultHistoryLimit: 20, MaxHistoryLimit: 100})
	ctx := context.Background()

	repo.On("QueryConversation", ctx, "u1", "u2", 20).Return([]*domain.Message{}, nil).Once()
	repo.On("QueryConversation", ctx, "u1", "u2", 100).Return([]*domain.Message{}, nil).Once()

	_, limit, err := svc.GetConversation(ctx, "u1", "u2", 0)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	_, limit, err = svc.GetConversation(ctx, "u1", "u2", 5000)
	require.NoError(t, err)
	assert.Equal(t, 100, limit)

	_, _, err = svc.GetConversation(ctx, "u1", "u1", 10)
	assert.ErrorIs(t, err, common.ErrValidation)
	repo.AssertExpectations(t)
}

func TestMessageService_MarkAsReadPublishesOnlyOnChange(t *testing.T) {
	repo := new(MockMessageRepository)
	pub := &capturePublisher{}
	svc := NewMessageService(repo, pub, MessageServiceConfig{})
	ctx := context.Background()

	read := stored(3, "u1", "u2", "hi")
	read.IsRead = true
	repo.On("MarkAsRead", ctx, uint64(3), "u2").Return(read, true, nil).Once()
	repo.On("MarkAsRead", ctx, uint64(3), "u2").Return(read, false, nil).Once()

	_, err := svc.MarkAsRead(ctx, 3, "u2")
	require.NoError(t, err)
	_, err = svc.MarkAsRead(ctx, 3, "u2")
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventMessageRead, pub.events[0].Type)
	assert.Equal(t, "u2", pub.events[0].ReadBy)
}

func newSQLiteRepo(t *testing.T) repository.MessageRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.MigrateMessages(db))
	return repository.NewMessageRepository(db)
}

func TestMessageService_SendThenQuery(t *testing.T) {
	svc := NewMessageService(newSQLiteRepo(t), &capturePublisher{}, MessageServiceConfig{})
	ctx := context.Background()

	_, err := svc.Send(ctx, "u1", "u2", "hi")
	require.NoError(t, err)

	msgs, _, err := svc.GetConversation(ctx, "u1", "u2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].SenderID)
}

func TestMessageService_DoubleSubmitStoresTwice(t *testing.T) {
	svc := NewMessageService(newSQLiteRepo(t), nil, MessageServiceConfig{})
	ctx := context.Background()

	a, err := svc.Send(ctx, "u1", "u2", "same")
	require.NoError(t, err)
	b, err := svc.Send(ctx, "u1", "u2", "same")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	msgs, _, err := svc.GetConversation(ctx, "u2", "u1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
