// Package presence tracks which members currently hold a live connection.
//
// The Registry is the only process-wide mutable state of the messenger. It is
// created explicitly and passed to whoever needs it; there is no package-level
// instance. Presence is advisory: publishing or mirroring failures never reach
// the caller.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/metrics"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout       = 90 * time.Second
	DefaultCheckInterval = 30 * time.Second
	observerTimeout      = 2 * time.Second
)

// Publisher receives one event per online/offline transition
type Publisher interface {
	Publish(topic string, evt *domain.Event)
}

// Observer is told about every state write, heartbeats included
type Observer interface {
	PresenceUpdated(ctx context.Context, entry domain.PresenceEntry)
}

// Cluster answers whether other instances still see a user (RedisMirror)
type Cluster interface {
	OnlineElsewhere(ctx context.Context, userID string) (bool, error)
}

// Option configures a Registry
type Option func(*Registry)

// WithTimeout sets how long a user stays online without activity
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCheckInterval sets how often Run sweeps stale entries
func WithCheckInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.checkInterval = d
		}
	}
}

// WithClock overrides the registry clock
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithObserver adds an observer such as RedisMirror
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithCluster suppresses offline events for users still connected to
// another instance
func WithCluster(c Cluster) Option {
	return func(r *Registry) { r.cluster = c }
}

// Registry is the set of online users with their last activity
type Registry struct {
	// emitMu serializes transitions with their events so events leave in state order
	emitMu sync.Mutex
	mu     sync.RWMutex

	online        map[string]time.Time
	publisher     Publisher
	observers     []Observer
	cluster       Cluster
	timeout       time.Duration
	checkInterval time.Duration
	now           func() time.Time
	logger        zerolog.Logger
	closed        bool
}

// NewRegistry creates an empty registry; publisher may be nil
func NewRegistry(publisher Publisher, opts ...Option) *Registry {
	r := &Registry{
		online:        make(map[string]time.Time),
		publisher:     publisher,
		timeout:       DefaultTimeout,
		checkInterval: DefaultCheckInterval,
		now:           time.Now,
		logger:        logger.WithComponent("presence"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MarkOnline adds the user; repeated calls only refresh last-seen
func (r *Registry) MarkOnline(userID string) {
	r.upsert(userID)
}

// Touch records activity, bringing the user online if needed
func (r *Registry) Touch(userID string) {
	r.upsert(userID)
}

// MarkOffline removes the user; removing an absent user is a no-op
func (r *Registry) MarkOffline(userID string) {
	if userID == "" {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	_, ok := r.online[userID]
	if r.closed || !ok {
		r.mu.Unlock()
		return
	}
	delete(r.online, userID)
	count := len(r.online)
	r.mu.Unlock()

	r.emit(domain.PresenceEntry{UserID: userID, Online: false, LastSeen: r.now()}, true, count)
}

func (r *Registry) upsert(userID string) {
	if userID == "" {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	now := r.now()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	_, wasOnline := r.online[userID]
	r.online[userID] = now
	count := len(r.online)
	r.mu.Unlock()

	r.emit(domain.PresenceEntry{UserID: userID, Online: true, LastSeen: now}, !wasOnline, count)
}

// IsOnline reports whether the user is currently online
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok
}

// Entry returns the presence of a single user
func (r *Registry) Entry(userID string) domain.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen, ok := r.online[userID]
	return domain.PresenceEntry{UserID: userID, Online: ok, LastSeen: seen}
}

// Snapshot returns the sorted ids of online users
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.online))
	for id := range r.online {
		users = append(users, id)
	}
	r.mu.RUnlock()

	slices.Sort(users)
	return users
}

// Sweep takes users offline whose last activity is older than the timeout
func (r *Registry) Sweep(now time.Time) int {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	var expired []domain.PresenceEntry
	for id, seen := range r.online {
		if now.Sub(seen) > r.timeout {
			delete(r.online, id)
			expired = append(expired, domain.PresenceEntry{UserID: id, Online: false, LastSeen: seen})
		}
	}
	count := len(r.online)
	r.mu.Unlock()

	slices.SortFunc(expired, func(a, b domain.PresenceEntry) int {
		return a.LastSeen.Compare(b.LastSeen)
	})
	for _, entry := range expired {
		r.emit(entry, true, count)
	}

	if len(expired) > 0 {
		r.logger.Info().
			Int("expired", len(expired)).
			Int("online", count).
			Dur("timeout", r.timeout).
			Msg("presence sweep completed")
	}
	return len(expired)
}

// Run sweeps stale entries until ctx is done (blocking, run in a goroutine)
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("timeout", r.timeout).
		Dur("check_interval", r.checkInterval).
		Msg("presence sweeper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("presence sweeper stopped")
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Close drops every entry and detaches the publisher and observers
func (r *Registry) Close() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.online = make(map[string]time.Time)
	r.publisher = nil
	r.observers = nil
	r.cluster = nil
	r.closed = true
	r.mu.Unlock()

	metrics.OnlineUsers.Set(0)
}

// emit runs with emitMu held and mu released. Observers run first so the
// cluster view already reflects this instance when an offline is checked.
func (r *Registry) emit(entry domain.PresenceEntry, transition bool, count int) {
	metrics.OnlineUsers.Set(float64(count))

	for _, o := range r.observers {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		o.PresenceUpdated(ctx, entry)
		cancel()
	}

	if !transition {
		return
	}
	state := "offline"
	if entry.Online {
		state = "online"
	}
	metrics.PresenceTransitions.WithLabelValues(state).Inc()
	r.logger.Debug().Str("user_id", entry.UserID).Str("state", state).Msg("presence transition")

	if !entry.Online && r.onlineElsewhere(entry.UserID) {
		r.logger.Debug().Str("user_id", entry.UserID).Msg("offline kept local, user connected elsewhere")
		return
	}
	if r.publisher != nil {
		r.publisher.Publish(domain.TopicPresence, domain.NewPresenceEvent(entry))
	}
}

// onlineElsewhere fails open: an unreachable cluster view publishes the offline
func (r *Registry) onlineElsewhere(userID string) bool {
	if r.cluster == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	elsewhere, err := r.cluster.OnlineElsewhere(ctx, userID)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("cluster presence unavailable")
		return false
	}
	return elsewhere
}
