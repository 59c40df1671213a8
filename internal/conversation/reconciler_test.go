package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id uint64, from, to string, offset time.Duration) *domain.Message {
	return &domain.Message{
		ID:              id,
		ConversationKey: domain.NewConversationKey(from, to),
		SenderID:        from,
		ReceiverID:      to,
		Content:         "m",
		CreatedAt:       t0.Add(offset),
	}
}

// stubHistory returns a fixed result, optionally after release is closed
type stubHistory struct {
	msgs    []*domain.Message
	err     error
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (h *stubHistory) QueryConversation(ctx context.Context, _, _ string, _ int) ([]*domain.Message, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.release != nil {
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.msgs, h.err
}

type fakeFeed struct {
	ch   chan *domain.Event
	once sync.Once
	err  error
}

func (f *fakeFeed) Events() <-chan *domain.Event { return f.ch }
func (f *fakeFeed) Unsubscribe()                 { f.once.Do(func() { close(f.ch) }) }
func (f *fakeFeed) Err() error                   { return f.err }

// fakeChannel hands out one feed per topic
type fakeChannel struct {
	mu    sync.Mutex
	feeds map[string]*fakeFeed
	fail  map[string]error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{feeds: map[string]*fakeFeed{}, fail: map[string]error{}}
}

func (c *fakeChannel) Subscribe(_ context.Context, topic string) (Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[topic]; err != nil {
		return nil, err
	}
	f := &fakeFeed{ch: make(chan *domain.Event, 16)}
	c.feeds[topic] = f
	return f, nil
}

func (c *fakeChannel) feed(topic string) *fakeFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeds[topic]
}

func (c *fakeChannel) push(topic string, evt *domain.Event) {
	c.feed(topic).ch <- evt
}

func idsOf(msgs []*domain.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func waitForIDs(t *testing.T, r *Reconciler, want ...uint64) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, idsOf(r.Messages()))
	}, time.Second, 5*time.Millisecond, "want %v, have %v", want, idsOf(r.Messages()))
}

var convTopic = domain.ConversationTopic("u1", "u2")

func TestReconciler_DuplicateFromLiveAfterHistory(t *testing.T) {
	m1 := msg(1, "u1", "u2", 0)
	m2 := msg(2, "u2", "u1", time.Second)
	ch := newFakeChannel()
	r := New("u1", "u2", &stubHistory{msgs: []*domain.Message{m1}}, ch)
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	ch.push(convTopic, domain.NewMessageEvent(m1))
	ch.push(convTopic, domain.NewMessageEvent(m2))

	waitForIDs(t, r, 1, 2)
	assert.Len(t, r.Messages(), 2)
}

func TestReconciler_LiveBeforeHistoryResolves(t *testing.T) {
	m1 := msg(1, "u1", "u2", 0)
	m2 := msg(2, "u1", "u2", time.Second)
	history := &stubHistory{msgs: []*domain.Message{m1}, release: make(chan struct{})}
	ch := newFakeChannel()
	r := New("u1", "u2", history, ch)

	opened := make(chan error, 1)
	go func() { opened <- r.Open(context.Background()) }()
	defer r.Close()

	assert.Eventually(t, func() bool { return ch.feed(convTopic) != nil }, time.Second, time.Millisecond)
	ch.push(convTopic, domain.NewMessageEvent(m2))
	waitForIDs(t, r, 2)

	close(history.release)
	require.NoError(t, <-opened)
	assert.Equal(t, []uint64{1, 2}, idsOf(r.Messages()))
}

func TestReconciler_ApplyIsIdempotent(t *testing.T) {
	r := New("u1", "u2", &stubHistory{}, newFakeChannel())
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	evt := domain.NewMessageEvent(msg(7, "u1", "u2", 0))
	assert.True(t, r.Apply(evt))
	before := r.Messages()

	assert.False(t, r.Apply(evt))
	assert.Equal(t, before, r.Messages())
}

func TestReconciler_OrderIndependent(t *testing.T) {
	a := msg(10, "u1", "u2", time.Second)
	b := msg(11, "u2", "u1", 2*time.Second)
	// Same timestamp as a: the id decides
	c := msg(9, "u2", "u1", time.Second)

	orders := [][]*domain.Message{{a, b, c}, {c, b, a}, {b, a, c}, {b, c, a}}
	for _, order := range orders {
		r := New("u1", "u2", &stubHistory{}, newFakeChannel())
		require.NoError(t, r.Open(context.Background()))
		for _, m := range order {
			r.Apply(domain.NewMessageEvent(m))
		}
		assert.Equal(t, []uint64{9, 10, 11}, idsOf(r.Messages()))
		r.Close()
	}
}

func TestReconciler_DiscardsOtherConversations(t *testing.T) {
	r := New("u1", "u2", &stubHistory{msgs: []*domain.Message{msg(1, "u1", "u3", 0)}}, newFakeChannel())
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	assert.Empty(t, r.Messages())
	assert.False(t, r.Apply(domain.NewMessageEvent(msg(2, "u3", "u2", 0))))
	assert.False(t, r.Apply(&domain.Event{Type: domain.EventMessageCreated}))
	assert.Empty(t, r.Messages())
}

func TestReconciler_ReadEventsPreserveFlag(t *testing.T) {
	r := New("u1", "u2", &stubHistory{msgs: []*domain.Message{msg(1, "u1", "u2", 0)}}, newFakeChannel())
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	read := msg(1, "u1", "u2", 0)
	read.IsRead = true
	assert.True(t, r.Apply(domain.NewReadEvent(read)))
	assert.False(t, r.Apply(domain.NewReadEvent(read)))
	assert.True(t, r.Messages()[0].IsRead)

	// A duplicate created event with a stale flag does not undo the read
	assert.False(t, r.Apply(domain.NewMessageEvent(msg(1, "u1", "u2", 0))))
	assert.True(t, r.Messages()[0].IsRead)

	// Read arriving before the message is applied once the message lands
	early := msg(2, "u1", "u2", time.Second)
	assert.False(t, r.Apply(domain.NewReadEvent(early)))
	assert.True(t, r.Apply(domain.NewMessageEvent(early)))
	assert.True(t, r.Messages()[1].IsRead)
}

func TestReconciler_PresenceIsSeparateFromMessages(t *testing.T) {
	ch := newFakeChannel()
	r := New("u1", "u2", &stubHistory{}, ch)
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	ch.push(domain.TopicPresence, domain.NewPresenceEvent(domain.PresenceEntry{UserID: "u2", Online: true}))
	assert.Eventually(t, r.PeerOnline, time.Second, 5*time.Millisecond)
	assert.Empty(t, r.Messages())

	ch.push(domain.TopicPresence, domain.NewPresenceEvent(domain.PresenceEntry{UserID: "u2", Online: false}))
	assert.Eventually(t, func() bool { return !r.PeerOnline() }, time.Second, 5*time.Millisecond)
}

type stubPresence struct {
	users []string
	err   error
}

func (p stubPresence) Snapshot(context.Context) ([]string, error) { return p.users, p.err }

func TestReconciler_SeedsPresence(t *testing.T) {
	r := New("u1", "u2", &stubHistory{}, newFakeChannel(), WithPresence(stubPresence{users: []string{"u2", "u9"}}))
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	assert.True(t, r.PeerOnline())
	assert.Equal(t, []string{"u2", "u9"}, r.Online())

	// Presence failures are advisory
	r2 := New("u1", "u2", &stubHistory{}, newFakeChannel(), WithPresence(stubPresence{err: errors.New("down")}))
	require.NoError(t, r2.Open(context.Background()))
	defer r2.Close()
	assert.False(t, r2.PeerOnline())
}

func TestReconciler_SubscriptionFailureDegrades(t *testing.T) {
	ch := newFakeChannel()
	ch.fail[convTopic] = errors.New("unreachable")
	r := New("u1", "u2", &stubHistory{msgs: []*domain.Message{msg(1, "u1", "u2", 0)}}, ch)

	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	assert.ErrorIs(t, r.Degraded(), common.ErrSubscription)
	var serr *common.SubscriptionError
	require.ErrorAs(t, r.Degraded(), &serr)
	assert.Equal(t, convTopic, serr.Topic)
	assert.Equal(t, []uint64{1}, idsOf(r.Messages()), "history stays visible")
}

func TestReconciler_FeedClosedByChannelDegrades(t *testing.T) {
	ch := newFakeChannel()
	r := New("u1", "u2", &stubHistory{}, ch)
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()
	assert.NoError(t, r.Degraded())

	feed := ch.feed(convTopic)
	feed.err = common.ErrSubscriptionOverflow
	feed.Unsubscribe()

	assert.Eventually(t, func() bool { return r.Degraded() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Degraded(), common.ErrSubscriptionOverflow)
}

func TestReconciler_HistoryFailureIsReturned(t *testing.T) {
	ch := newFakeChannel()
	r := New("u1", "u2", &stubHistory{err: errors.New("db down")}, ch)

	assert.Error(t, r.Open(context.Background()))
	assert.False(t, r.IsOpen())

	// Feeds opened during the failed Open are released
	_, ok := <-ch.feed(convTopic).Events()
	assert.False(t, ok)
}

func TestReconciler_CloseDiscardsAndReopenRebuilds(t *testing.T) {
	history := &stubHistory{msgs: []*domain.Message{msg(1, "u1", "u2", 0)}}
	ch := newFakeChannel()
	r := New("u1", "u2", history, ch)
	require.NoError(t, r.Open(context.Background()))
	r.Apply(domain.NewMessageEvent(msg(2, "u1", "u2", time.Second)))

	first := ch.feed(convTopic)
	r.Close()
	r.Close()

	assert.Empty(t, r.Messages())
	assert.False(t, r.Apply(domain.NewMessageEvent(msg(3, "u1", "u2", 0))))
	_, ok := <-first.Events()
	assert.False(t, ok, "close must unsubscribe")

	require.NoError(t, r.Open(context.Background()))
	defer r.Close()
	assert.Equal(t, []uint64{1}, idsOf(r.Messages()))
	assert.Equal(t, 2, history.calls)
}

func TestReconciler_OnChangeReceivesViews(t *testing.T) {
	var (
		mu    sync.Mutex
		views []View
	)
	r := New("u1", "u2", &stubHistory{msgs: []*domain.Message{msg(1, "u1", "u2", 0)}}, newFakeChannel(),
		OnChange(func(v View) {
			mu.Lock()
			views = append(views, v)
			mu.Unlock()
		}))
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	r.Apply(domain.NewMessageEvent(msg(2, "u2", "u1", time.Second)))
	r.Apply(domain.NewMessageEvent(msg(2, "u2", "u1", time.Second)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 2)
	assert.Equal(t, []uint64{1}, idsOf(views[0].Messages))
	assert.Equal(t, []uint64{1, 2}, idsOf(views[1].Messages))
}

func TestReconciler_WithInProcessHub(t *testing.T) {
	hub := ws.NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	r := New("u1", "u2", &stubHistory{}, HubChannel(hub))
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	m := msg(5, "u2", "u1", 0)
	hub.Publish(domain.TopicForKey(m.ConversationKey), domain.NewMessageEvent(m))
	waitForIDs(t, r, 5)

	r.Close()
	assert.Zero(t, hub.SubscriberCount(convTopic))
	assert.Zero(t, hub.SubscriberCount(domain.TopicPresence))
}

func TestReconciler_OnChangeMayApply(t *testing.T) {
	var (
		r     *Reconciler
		mu    sync.Mutex
		views []View
	)
	r = New("u1", "u2", &stubHistory{msgs: []*domain.Message{msg(1, "u1", "u2", 0)}}, newFakeChannel(),
		OnChange(func(v View) {
			mu.Lock()
			views = append(views, v)
			mu.Unlock()
			if len(v.Messages) == 2 {
				r.Apply(domain.NewMessageEvent(msg(3, "u1", "u2", 2*time.Second)))
			}
		}))
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	done := make(chan struct{})
	go func() {
		r.Apply(domain.NewMessageEvent(msg(2, "u2", "u1", time.Second)))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Apply from inside OnChange blocked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 3)
	assert.Equal(t, []uint64{1, 2, 3}, idsOf(views[2].Messages))
}

func TestReconciler_PendingReadsAreBounded(t *testing.T) {
	r := New("u1", "u2", &stubHistory{}, newFakeChannel())
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	const first = 1000
	for id := uint64(first); id < first+maxPendingReads+44; id++ {
		r.Apply(domain.NewReadEvent(msg(id, "u1", "u2", 0)))
	}
	r.mu.Lock()
	held := len(r.pendingReads)
	r.mu.Unlock()
	assert.Equal(t, maxPendingReads, held)

	newest := msg(first+maxPendingReads+43, "u1", "u2", time.Second)
	oldest := msg(first, "u1", "u2", 0)
	r.Apply(domain.NewMessageEvent(newest))
	r.Apply(domain.NewMessageEvent(oldest))

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsRead, "oldest pending read was evicted")
	assert.True(t, msgs[1].IsRead)
}
