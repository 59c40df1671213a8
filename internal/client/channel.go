package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/conversation"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	feedBuffer = 64
	writeWait  = 10 * time.Second
)

// Channel returns an EventChannel backed by one websocket per subscription
func (c *Client) Channel() conversation.EventChannel {
	return remoteChannel{client: c}
}

type remoteChannel struct {
	client *Client
}

// Subscribe dials the websocket for topic. A conversation socket names the
// peer in the handshake and opts out of presence, so each topic is pushed once.
func (ch remoteChannel) Subscribe(ctx context.Context, topic string) (conversation.Feed, error) {
	peer := ""
	if topic != domain.TopicPresence {
		key, _ := domain.KeyForTopic(topic)
		a, b, ok := domain.ParseConversationKey(key)
		if !ok {
			return nil, &common.SubscriptionError{Topic: topic, Cause: errUnknownTopic}
		}
		switch ch.client.UserID {
		case a:
			peer = b
		case b:
			peer = a
		default:
			return nil, &common.SubscriptionError{Topic: topic, Cause: common.ErrForbidden}
		}
	}

	target, err := ch.client.wsURL(peer)
	if err != nil {
		return nil, &common.SubscriptionError{Topic: topic, Cause: err}
	}
	header := http.Header{}
	if ch.client.Token != "" {
		header.Set("Authorization", "Bearer "+ch.client.Token)
	}

	conn, resp, err := ch.client.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &common.SubscriptionError{Topic: topic, Cause: err}
	}

	f := &remoteFeed{
		conn:   conn,
		topic:  topic,
		events: make(chan *domain.Event, feedBuffer),
		done:   make(chan struct{}),
	}
	go f.readLoop()
	go f.heartbeat(ch.client.HeartbeatInterval)
	return f, nil
}

// remoteFeed adapts a websocket connection to conversation.Feed
type remoteFeed struct {
	conn   *websocket.Conn
	events chan *domain.Event
	done   chan struct{}
	topic  string

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (f *remoteFeed) Events() <-chan *domain.Event { return f.events }

// Err reports why the connection ended, nil after Unsubscribe
func (f *remoteFeed) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

// Unsubscribe closes the connection; Events is closed by the read loop
func (f *remoteFeed) Unsubscribe() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.writeMu.Lock()
		f.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")) //nolint:errcheck
		f.writeMu.Unlock()
		f.conn.Close() //nolint:errcheck
	})
}

func (f *remoteFeed) readLoop() {
	defer close(f.events)
	defer f.Unsubscribe()

	for {
		var evt domain.Event
		if err := f.conn.ReadJSON(&evt); err != nil {
			select {
			case <-f.done:
			default:
				f.errMu.Lock()
				f.err = err
				f.errMu.Unlock()
			}
			return
		}
		if evt.Topic != f.topic {
			continue
		}
		select {
		case f.events <- &evt:
		case <-f.done:
			return
		}
	}
}

// heartbeat keeps the user marked online while the feed is open
func (f *remoteFeed) heartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			f.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			err := f.conn.WriteJSON(map[string]string{"type": domain.EventHeartbeat})
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
