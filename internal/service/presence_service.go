package service

import (
	"context"
	"slices"
	"sync"

	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/presence"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/rs/zerolog"
)

// ConnectionCounter tracks open connections per member (ws.Hub)
type ConnectionCounter interface {
	Connect(userID string) bool
	Disconnect(userID string) bool
}

// RemoteSnapshotter reads the cluster-wide online set (presence.RedisMirror)
type RemoteSnapshotter interface {
	RemoteSnapshot(ctx context.Context) ([]string, error)
}

// PresenceService bridges websocket connections to the presence registry
type PresenceService interface {
	Connected(userID string)
	Disconnected(userID string)
	Touch(userID string)
	IsOnline(ctx context.Context, userID string) domain.PresenceEntry
	Snapshot(ctx context.Context) ([]string, error)
}

type presenceService struct {
	// connMu keeps the connection count and the registry transition in step
	connMu      sync.Mutex
	registry    *presence.Registry
	connections ConnectionCounter
	remote      RemoteSnapshotter
	logger      zerolog.Logger
}

// NewPresenceService creates a new PresenceService; remote may be nil
func NewPresenceService(registry *presence.Registry, connections ConnectionCounter, remote RemoteSnapshotter) PresenceService {
	return &presenceService{
		registry:    registry,
		connections: connections,
		remote:      remote,
		logger:      logger.WithComponent("presence-service"),
	}
}

// Connected marks the user online on their first connection
func (s *presenceService) Connected(userID string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.connections.Connect(userID) {
		s.registry.MarkOnline(userID)
		return
	}
	s.registry.Touch(userID)
}

// Disconnected marks the user offline once their last connection is gone
func (s *presenceService) Disconnected(userID string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.connections.Disconnect(userID) {
		s.registry.MarkOffline(userID)
	}
}

// Touch records heartbeat activity
func (s *presenceService) Touch(userID string) {
	s.registry.Touch(userID)
}

// IsOnline returns the local entry, falling back to the cluster view
func (s *presenceService) IsOnline(ctx context.Context, userID string) domain.PresenceEntry {
	entry := s.registry.Entry(userID)
	if entry.Online || s.remote == nil {
		return entry
	}
	users, err := s.remote.RemoteSnapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("remote presence unavailable")
		return entry
	}
	_, entry.Online = slices.BinarySearch(users, userID)
	return entry
}

// Snapshot merges local and cluster-wide online users. Remote failures
// degrade to the local view.
func (s *presenceService) Snapshot(ctx context.Context) ([]string, error) {
	local := s.registry.Snapshot()
	if s.remote == nil {
		return local, nil
	}

	remote, err := s.remote.RemoteSnapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("remote presence unavailable")
		return local, nil
	}

	merged := append(local, remote...)
	slices.Sort(merged)
	return slices.Compact(merged), nil
}
