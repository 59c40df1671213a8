package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Send pipeline
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Total direct messages stored and published",
		},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_send_failures_total",
			Help: "Total rejected or failed sends",
		},
		[]string{"reason"}, // "validation" or "store"
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_read_total",
			Help: "Total unread to read transitions",
		},
	)

	// Presence
	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_presence_transitions_total",
			Help: "Total presence transitions",
		},
		[]string{"state"}, // "online" or "offline"
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_online_users",
			Help: "Number of users currently marked online",
		},
	)

	// Event channel
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_active_subscriptions",
			Help: "Number of live event channel subscriptions",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_events_published_total",
			Help: "Total events published on the event channel",
		},
		[]string{"type"},
	)

	DroppedSubscribers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_dropped_subscribers_total",
			Help: "Subscribers dropped because their buffer was full",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_websocket_connections",
			Help: "Number of open websocket connections",
		},
	)
)
