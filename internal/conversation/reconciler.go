// Package conversation keeps one open direct-message conversation consistent.
//
// A Reconciler merges a one-shot history query with a live event feed into a
// single sequence that is unique by message id and ordered by created_at then
// id. Neither input is trusted to be ordered or duplicate free. The sender's
// own messages also arrive through the feed: nothing is inserted locally on
// send, so every participant converges on the store's canonical records.
package conversation

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/ws"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a reconciler that is not open
var ErrClosed = errors.New("conversation is not open")

// maxPendingReads bounds read acknowledgments held for messages not yet seen
const maxPendingReads = 256

// HistorySource is the durable store's range query
type HistorySource interface {
	QueryConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error)
}

// Feed is a live subscription. Unsubscribe must eventually close Events.
type Feed interface {
	Events() <-chan *domain.Event
	Unsubscribe()
}

// EventChannel opens feeds on topics
type EventChannel interface {
	Subscribe(ctx context.Context, topic string) (Feed, error)
}

// PresenceSource seeds the online set when a conversation opens
type PresenceSource interface {
	Snapshot(ctx context.Context) ([]string, error)
}

// View is an immutable snapshot handed to OnChange callbacks
type View struct {
	Degraded error
	Messages []*domain.Message
	Online   []string
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithHistoryLimit bounds the initial history query (0 means everything)
func WithHistoryLimit(n int) Option {
	return func(r *Reconciler) { r.historyLimit = n }
}

// WithPresence seeds the online set from src on Open
func WithPresence(src PresenceSource) Option {
	return func(r *Reconciler) { r.presence = src }
}

// OnChange registers a callback run after every effective change. Callbacks
// never overlap; a change made from inside the callback is delivered after
// it returns.
func OnChange(fn func(View)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// Reconciler owns the displayed state of one conversation between self and peer
type Reconciler struct {
	self, peer   string
	history      HistorySource
	channel      EventChannel
	presence     PresenceSource
	historyLimit int
	onChange     func(View)
	logger       zerolog.Logger

	mu           sync.Mutex
	open         bool
	generation   uint64
	messages     []*domain.Message
	index        map[uint64]*domain.Message
	pendingReads map[uint64]struct{}
	online       map[string]bool
	presenceSeen map[string]struct{}
	degraded     error
	feeds        []Feed
	version      uint64

	notifyMu      sync.Mutex
	notifying     bool
	notifyPending bool
	delivered     uint64
}

// New creates a closed reconciler for the conversation between self and peer
func New(self, peer string, history HistorySource, channel EventChannel, opts ...Option) *Reconciler {
	r := &Reconciler{
		self:    self,
		peer:    peer,
		history: history,
		channel: channel,
		logger:  logger.WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

// reset must be called with r.mu held (or before the reconciler is shared)
func (r *Reconciler) reset() {
	r.messages = nil
	r.index = make(map[uint64]*domain.Message)
	r.pendingReads = make(map[uint64]struct{})
	r.online = make(map[string]bool)
	r.presenceSeen = make(map[string]struct{})
	r.degraded = nil
	r.feeds = nil
}

// Open subscribes to live updates, then loads history and merges it.
// A subscription failure leaves the view degraded but usable; a history
// failure closes the reconciler and is returned.
func (r *Reconciler) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.open {
		r.mu.Unlock()
		return nil
	}
	r.open = true
	r.generation++
	gen := r.generation
	r.reset()
	r.mu.Unlock()

	// 구독을 먼저 열어 히스토리 조회 중 도착한 메시지를 놓치지 않음
	for _, topic := range []string{domain.ConversationTopic(r.self, r.peer), domain.TopicPresence} {
		r.subscribe(ctx, gen, topic)
	}

	if r.presence != nil {
		users, err := r.presence.Snapshot(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("peer_id", r.peer).Msg("presence snapshot unavailable")
		} else {
			r.seedPresence(gen, users)
		}
	}

	msgs, err := r.history.QueryConversation(ctx, r.self, r.peer, r.historyLimit)
	if err != nil {
		r.Close()
		return err
	}
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return ErrClosed
	}
	for _, m := range msgs {
		r.mergeMessage(m)
	}
	r.version++
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *Reconciler) subscribe(ctx context.Context, gen uint64, topic string) {
	if r.channel == nil {
		r.markDegraded(gen, &common.SubscriptionError{Topic: topic, Cause: common.ErrSubscription})
		return
	}
	feed, err := r.channel.Subscribe(ctx, topic)
	if err != nil {
		r.logger.Warn().Err(err).Str("topic", topic).Msg("live updates unavailable")
		r.markDegraded(gen, &common.SubscriptionError{Topic: topic, Cause: err})
		return
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		feed.Unsubscribe()
		return
	}
	r.feeds = append(r.feeds, feed)
	r.mu.Unlock()

	go r.consume(gen, topic, feed)
}

func (r *Reconciler) consume(gen uint64, topic string, feed Feed) {
	for evt := range feed.Events() {
		r.apply(gen, evt)
	}

	// Closed by the channel rather than by Close
	cause := common.ErrSubscription
	if f, ok := feed.(interface{ Err() error }); ok && f.Err() != nil {
		cause = f.Err()
	}
	r.markDegraded(gen, &common.SubscriptionError{Topic: topic, Cause: cause})
}

func (r *Reconciler) markDegraded(gen uint64, err error) {
	r.mu.Lock()
	if r.generation != gen || !r.open {
		r.mu.Unlock()
		return
	}
	if r.degraded == nil {
		r.degraded = err
	}
	r.version++
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) seedPresence(gen uint64, users []string) {
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return
	}
	for _, u := range users {
		// 실시간 이벤트가 이미 도착했다면 스냅샷보다 우선
		if _, seen := r.presenceSeen[u]; !seen {
			r.online[u] = true
		}
	}
	r.version++
	r.mu.Unlock()
	r.notify()
}

// Apply merges one event into the open view and reports whether it changed
func (r *Reconciler) Apply(evt *domain.Event) bool {
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()
	return r.apply(gen, evt)
}

func (r *Reconciler) apply(gen uint64, evt *domain.Event) bool {
	if evt == nil {
		return false
	}

	r.mu.Lock()
	if r.generation != gen || !r.open {
		r.mu.Unlock()
		return false
	}

	changed := false
	switch evt.Type {
	case domain.EventMessageCreated:
		changed = evt.Message != nil && r.mergeMessage(evt.Message)
	case domain.EventMessageRead:
		changed = evt.Message != nil && r.mergeRead(evt.Message)
	case domain.EventPresenceOnline, domain.EventPresenceOffline:
		if evt.Presence != nil {
			changed = r.mergePresence(evt.Presence.UserID, evt.Type == domain.EventPresenceOnline)
		}
	}
	if changed {
		r.version++
	}
	r.mu.Unlock()

	if changed {
		r.notify()
	}
	return changed
}

// mergeMessage must be called with r.mu held
func (r *Reconciler) mergeMessage(m *domain.Message) bool {
	if !m.Involves(r.self, r.peer) {
		return false
	}
	if _, dup := r.index[m.ID]; dup {
		return false
	}

	held := m.Clone()
	if _, ok := r.pendingReads[held.ID]; ok {
		held.IsRead = true
		delete(r.pendingReads, held.ID)
	}
	pos := sort.Search(len(r.messages), func(i int) bool {
		return domain.Less(held, r.messages[i])
	})
	r.messages = slices.Insert(r.messages, pos, held)
	r.index[held.ID] = held
	return true
}

// mergeRead must be called with r.mu held
func (r *Reconciler) mergeRead(m *domain.Message) bool {
	if !m.Involves(r.self, r.peer) {
		return false
	}
	held, ok := r.index[m.ID]
	if !ok {
		if len(r.pendingReads) >= maxPendingReads {
			// 가장 오래된(작은) id 부터 버림
			oldest := uint64(0)
			for id := range r.pendingReads {
				if oldest == 0 || id < oldest {
					oldest = id
				}
			}
			if m.ID < oldest {
				return false
			}
			delete(r.pendingReads, oldest)
		}
		r.pendingReads[m.ID] = struct{}{}
		return false
	}
	if held.IsRead {
		return false
	}
	held.IsRead = true
	if m.ReadAt != nil {
		t := *m.ReadAt
		held.ReadAt = &t
	}
	return true
}

// mergePresence must be called with r.mu held
func (r *Reconciler) mergePresence(userID string, online bool) bool {
	if userID == "" {
		return false
	}
	r.presenceSeen[userID] = struct{}{}
	if r.online[userID] == online {
		return false
	}
	if online {
		r.online[userID] = true
	} else {
		delete(r.online, userID)
	}
	return true
}

// Messages returns a copy of the ordered, duplicate free sequence
func (r *Reconciler) Messages() []*domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyMessages()
}

func (r *Reconciler) copyMessages() []*domain.Message {
	out := make([]*domain.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

// IsOnline reports the last known presence of userID
func (r *Reconciler) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// PeerOnline reports whether the other participant is online
func (r *Reconciler) PeerOnline() bool {
	return r.IsOnline(r.peer)
}

// Online returns the sorted set of users seen online
func (r *Reconciler) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOnline()
}

func (r *Reconciler) copyOnline() []string {
	out := make([]string, 0, len(r.online))
	for u := range r.online {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Degraded returns a *common.SubscriptionError when live updates are unavailable
func (r *Reconciler) Degraded() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// IsOpen reports whether Open succeeded and Close has not been called
func (r *Reconciler) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// View returns a consistent snapshot of messages, presence and degraded state
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{Messages: r.copyMessages(), Online: r.copyOnline(), Degraded: r.degraded}
}

// Close unsubscribes and discards the in-memory view. Events already
// dispatched to a feed are ignored once Close returns.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return
	}
	r.open = false
	r.generation++
	feeds := r.feeds
	r.reset()
	r.mu.Unlock()

	for _, f := range feeds {
		f.Unsubscribe()
	}
}

// notify delivers the newest view, skipping versions already superseded.
// One caller drains at a time; others leave a pending mark and return, so
// the callback runs without any reconciler lock held.
func (r *Reconciler) notify() {
	if r.onChange == nil {
		return
	}
	r.notifyMu.Lock()
	if r.notifying {
		r.notifyPending = true
		r.notifyMu.Unlock()
		return
	}
	r.notifying = true
	r.notifyMu.Unlock()

	for {
		if view, ok := r.nextView(); ok {
			r.onChange(view)
		}

		r.notifyMu.Lock()
		if !r.notifyPending {
			r.notifying = false
			r.notifyMu.Unlock()
			return
		}
		r.notifyPending = false
		r.notifyMu.Unlock()
	}
}

func (r *Reconciler) nextView() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open || r.version <= r.delivered {
		return View{}, false
	}
	r.delivered = r.version
	return View{Messages: r.copyMessages(), Online: r.copyOnline(), Degraded: r.degraded}, true
}

// HubChannel adapts the in-process event hub
func HubChannel(hub *ws.Hub) EventChannel {
	return hubChannel{hub: hub}
}

type hubChannel struct {
	hub *ws.Hub
}

func (c hubChannel) Subscribe(_ context.Context, topic string) (Feed, error) {
	sub, err := c.hub.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
