package service

import (
	"context"
	"errors"
	"strings"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/metrics"
	"github.com/damoang/angple-messenger/internal/repository"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// EventPublisher fans events out to subscribers (ws.Hub)
type EventPublisher interface {
	Publish(topic string, evt *domain.Event)
}

// MessageService business logic for direct messages
type MessageService interface {
	Send(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error)
	GetConversation(ctx context.Context, userID, peerID string, limit int) ([]*domain.Message, int, error)
	MarkAsRead(ctx context.Context, id uint64, readerID string) (*domain.Message, error)
}

// MessageServiceConfig limits applied by the service
type MessageServiceConfig struct {
	MaxContentLength    int
	DefaultHistoryLimit int
	MaxHistoryLimit     int
}

type messageService struct {
	repo      repository.MessageRepository
	publisher EventPublisher
	cfg       MessageServiceConfig
	logger    zerolog.Logger
}

// NewMessageService creates a new MessageService
func NewMessageService(repo repository.MessageRepository, publisher EventPublisher, cfg MessageServiceConfig) MessageService {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = common.DefaultMaxContentLength
	}
	if cfg.DefaultHistoryLimit <= 0 {
		cfg.DefaultHistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxHistoryLimit <= 0 {
		cfg.MaxHistoryLimit = maxHistoryLimit
	}
	return &messageService{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.WithComponent("message-service"),
	}
}

// Send validates, stores and publishes a message. The caller's own view is
// updated by the published echo, never by the return value. There is no
// idempotency key: two identical submissions store two messages.
func (s *messageService) Send(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	trimmed, err := common.ValidateMessage(senderID, receiverID, content, s.cfg.MaxContentLength)
	if err != nil {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	msg, err := s.repo.Insert(ctx, senderID, receiverID, trimmed)
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			metrics.SendFailures.WithLabelValues("validation").Inc()
			return nil, err
		}
		metrics.SendFailures.WithLabelValues("store").Inc()
		s.logger.Error().Err(err).
			Str("sender_id", senderID).
			Str("receiver_id", receiverID).
			Msg("message insert failed")
		return nil, &common.SendFailedError{Cause: err}
	}

	metrics.MessagesSent.Inc()
	if s.publisher != nil {
		s.publisher.Publish(domain.TopicForKey(msg.ConversationKey), domain.NewMessageEvent(msg.Clone()))
	}
	return msg, nil
}

// GetConversation returns the history between userID and peerID, oldest first
func (s *messageService) GetConversation(ctx context.Context, userID, peerID string, limit int) ([]*domain.Message, int, error) {
	if peerID == "" {
		return nil, 0, common.NewValidationError("peer_id", "required")
	}
	if peerID == userID {
		return nil, 0, common.NewValidationError("peer_id", "must differ from the current user")
	}
	if strings.ContainsRune(peerID, ':') {
		return nil, 0, common.NewValidationError("peer_id", "must not contain ':'")
	}

	if limit < 1 {
		limit = s.cfg.DefaultHistoryLimit
	}
	if limit > s.cfg.MaxHistoryLimit {
		limit = s.cfg.MaxHistoryLimit
	}

	messages, err := s.repo.QueryConversation(ctx, userID, peerID, limit)
	if err != nil {
		return nil, 0, err
	}
	return messages, limit, nil
}

// MarkAsRead acknowledges a received message and publishes the change once
func (s *messageService) MarkAsRead(ctx context.Context, id uint64, readerID string) (*domain.Message, error) {
	msg, changed, err := s.repo.MarkAsRead(ctx, id, readerID)
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.MessagesRead.Inc()
		if s.publisher != nil {
			s.publisher.Publish(domain.TopicForKey(msg.ConversationKey), domain.NewReadEvent(msg.Clone()))
		}
	}
	return msg, nil
}
