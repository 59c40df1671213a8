package domain

import "strings"

// Event types pushed through the event channel
const (
	EventMessageCreated  = "message.created"
	EventMessageRead     = "message.read"
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
	EventHeartbeat       = "heartbeat"
)

// TopicPresence is the global presence topic
const TopicPresence = "presence"

const conversationTopicPrefix = "conversation:"

// Event is the envelope delivered to subscribers and websocket clients
type Event struct {
	Message  *Message       `json:"message,omitempty"`
	Presence *PresenceEntry `json:"presence,omitempty"`
	Type     string         `json:"type"`
	Topic    string         `json:"topic"`
	ReadBy   string         `json:"read_by,omitempty"`
}

// ConversationTopic returns the topic for the pair {a, b}
func ConversationTopic(a, b string) string {
	return conversationTopicPrefix + NewConversationKey(a, b)
}

// TopicForKey returns the topic for an existing conversation key
func TopicForKey(key string) string {
	return conversationTopicPrefix + key
}

// KeyForTopic returns the conversation key carried by a conversation topic
func KeyForTopic(topic string) (string, bool) {
	return strings.CutPrefix(topic, conversationTopicPrefix)
}

// NewMessageEvent wraps a created message
func NewMessageEvent(m *Message) *Event {
	return &Event{
		Type:    EventMessageCreated,
		Topic:   TopicForKey(m.ConversationKey),
		Message: m,
	}
}

// NewReadEvent wraps a message that was acknowledged by its receiver
func NewReadEvent(m *Message) *Event {
	return &Event{
		Type:    EventMessageRead,
		Topic:   TopicForKey(m.ConversationKey),
		Message: m,
		ReadBy:  m.ReceiverID,
	}
}

// NewPresenceEvent wraps a presence transition
func NewPresenceEvent(entry PresenceEntry) *Event {
	t := EventPresenceOffline
	if entry.Online {
		t = EventPresenceOnline
	}
	return &Event{
		Type:     t,
		Topic:    TopicPresence,
		Presence: &entry,
	}
}
