package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/metrics"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisPubSubChannel = "angple:messenger:events"

	defaultSubscriptionBuffer = 64
	broadcastBuffer           = 256
)

// Subscription is a handle on one topic. Events published before the
// subscription was created are never delivered.
type Subscription struct {
	hub    *Hub
	topic  string
	events chan *domain.Event

	mu     sync.Mutex
	err    error
	closed bool
}

// Events returns the delivery channel; it is closed on unsubscribe, drop or hub stop
func (s *Subscription) Events() <-chan *domain.Event { return s.events }

// Topic returns the subscribed topic
func (s *Subscription) Topic() string { return s.topic }

// Err reports why the hub closed the subscription, nil after a plain Unsubscribe
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe stops delivery; safe to call more than once
func (s *Subscription) Unsubscribe() { s.hub.Unsubscribe(s) }

// close must be called with hub.mu held
func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
	metrics.ActiveSubscriptions.Dec()
}

type hubEvent struct {
	Event  *domain.Event
	remote bool
}

type redisMessage struct {
	Origin string        `json:"origin"`
	Event  *domain.Event `json:"event"`
}

// Hub is the topic based event channel. Delivery is at-least-once and
// unordered across publishes; Publish returns before delivery.
type Hub struct {
	// Subscriptions grouped by topic
	topics map[string]map[*Subscription]struct{}

	// Open websocket connections per member
	members   map[string]int
	membersMu sync.Mutex

	broadcast chan *hubEvent

	mu          sync.RWMutex
	stopped     bool
	redisClient *redis.Client
	instanceID  string
	bufferSize  int
	logger      zerolog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSubscriptionBuffer sets the per subscription buffer size
func WithSubscriptionBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// NewHub creates a new Hub; redisClient may be nil for a single instance
func NewHub(redisClient *redis.Client, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		topics:      make(map[string]map[*Subscription]struct{}),
		members:     make(map[string]int),
		broadcast:   make(chan *hubEvent, broadcastBuffer),
		redisClient: redisClient,
		instanceID:  uuid.NewString(),
		bufferSize:  defaultSubscriptionBuffer,
		logger:      logger.WithComponent("hub"),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InstanceID identifies this hub in the Redis bridge and presence mirror
func (h *Hub) InstanceID() string { return h.instanceID }

// Subscribe registers a handle for topic, effective immediately
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil, common.ErrHubStopped
	}

	sub := &Subscription{
		hub:    h,
		topic:  topic,
		events: make(chan *domain.Event, h.bufferSize),
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	metrics.ActiveSubscriptions.Inc()
	return sub, nil
}

// Unsubscribe removes the handle and closes its channel
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub, nil)
}

// remove must be called with h.mu held
func (h *Hub) remove(sub *Subscription, reason error) {
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	sub.close(reason)
}

// SubscriberCount returns the number of handles on topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish enqueues evt for topic and returns without waiting for delivery
func (h *Hub) Publish(topic string, evt *domain.Event) {
	if evt == nil {
		return
	}
	if evt.Topic == "" {
		evt.Topic = topic
	}
	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	select {
	case h.broadcast <- &hubEvent{Event: evt}:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	// Start Redis subscriber if Redis is available
	if h.redisClient != nil {
		go h.subscribeRedis()
	}

	for {
		select {
		case msg := <-h.broadcast:
			h.deliver(msg.Event)
			if !msg.remote && h.redisClient != nil {
				h.publishRedis(msg.Event)
			}

		case <-h.ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) deliver(evt *domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.topics[evt.Topic] {
		select {
		case sub.events <- evt:
		default:
			// 버퍼가 가득 찬 구독자는 제거 (재구독은 클라이언트 몫)
			h.remove(sub, common.ErrSubscriptionOverflow)
			metrics.DroppedSubscribers.Inc()
			h.logger.Warn().Str("topic", evt.Topic).Msg("dropped slow subscriber")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for _, subs := range h.topics {
		for sub := range subs {
			sub.close(common.ErrHubStopped)
		}
	}
	h.topics = make(map[string]map[*Subscription]struct{})
}

func (h *Hub) publishRedis(evt *domain.Event) {
	data, err := json.Marshal(&redisMessage{Origin: h.instanceID, Event: evt})
	if err != nil {
		return
	}
	if err := h.redisClient.Publish(h.ctx, redisPubSubChannel, data).Err(); err != nil {
		h.logger.Warn().Err(err).Str("topic", evt.Topic).Msg("redis publish failed")
	}
}

// subscribeRedis listens for events from other instances
func (h *Hub) subscribeRedis() {
	pubsub := h.redisClient.Subscribe(h.ctx, redisPubSubChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var rm redisMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil || rm.Event == nil {
				continue
			}
			if rm.Origin == h.instanceID {
				continue
			}
			// Only local delivery (don't re-publish to Redis)
			select {
			case h.broadcast <- &hubEvent{Event: rm.Event, remote: true}:
			case <-h.ctx.Done():
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

// Connect counts a websocket for userID and reports whether it is the first
func (h *Hub) Connect(userID string) bool {
	h.membersMu.Lock()
	defer h.membersMu.Unlock()
	h.members[userID]++
	metrics.WebSocketConnections.Inc()
	return h.members[userID] == 1
}

// Disconnect releases a websocket for userID and reports whether it was the last
func (h *Hub) Disconnect(userID string) bool {
	h.membersMu.Lock()
	defer h.membersMu.Unlock()
	n, ok := h.members[userID]
	if !ok {
		return false
	}
	metrics.WebSocketConnections.Dec()
	if n <= 1 {
		delete(h.members, userID)
		return true
	}
	h.members[userID] = n - 1
	return false
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.cancel()
	h.closeAll()
}
