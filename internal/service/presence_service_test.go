package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-messenger/internal/presence"
	"github.com/damoang/angple-messenger/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRemote struct {
	users []string
	err   error
}

func (r stubRemote) RemoteSnapshot(context.Context) ([]string, error) { return r.users, r.err }

func TestPresenceService_MultipleConnections(t *testing.T) {
	pub := &capturePublisher{}
	registry := presence.NewRegistry(pub)
	svc := NewPresenceService(registry, ws.NewHub(nil), nil)

	svc.Connected("u1")
	svc.Connected("u1")
	svc.Disconnected("u1")
	assert.True(t, registry.IsOnline("u1"), "one tab is still open")

	svc.Disconnected("u1")
	assert.False(t, registry.IsOnline("u1"))
	assert.Len(t, pub.events, 2)
}

func TestPresenceService_SnapshotMergesRemote(t *testing.T) {
	registry := presence.NewRegistry(nil)
	registry.MarkOnline("b")
	registry.MarkOnline("a")
	svc := NewPresenceService(registry, ws.NewHub(nil), stubRemote{users: []string{"b", "c"}})

	users, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, users)

	assert.True(t, svc.IsOnline(context.Background(), "c").Online)
	assert.False(t, svc.IsOnline(context.Background(), "z").Online)
}

func TestPresenceService_RemoteFailureFallsBackToLocal(t *testing.T) {
	registry := presence.NewRegistry(nil)
	registry.MarkOnline("a")
	svc := NewPresenceService(registry, ws.NewHub(nil), stubRemote{err: errors.New("redis down")})

	users, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, users)
}

// pausingCounter holds Disconnect after the count drops so a reconnect can
// race with the offline transition
type pausingCounter struct {
	*ws.Hub
	disconnected chan struct{}
	release      chan struct{}
}

func (c *pausingCounter) Disconnect(userID string) bool {
	last := c.Hub.Disconnect(userID)
	close(c.disconnected)
	<-c.release
	return last
}

func TestPresenceService_ReconnectDuringDisconnectStaysOnline(t *testing.T) {
	registry := presence.NewRegistry(nil)
	counter := &pausingCounter{
		Hub:          ws.NewHub(nil),
		disconnected: make(chan struct{}),
		release:      make(chan struct{}),
	}
	svc := NewPresenceService(registry, counter, nil)
	svc.Connected("u1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.Disconnected("u1")
	}()
	<-counter.disconnected

	reconnected := make(chan struct{})
	go func() {
		defer wg.Done()
		svc.Connected("u1")
		close(reconnected)
	}()

	select {
	case <-reconnected:
		t.Fatal("reconnect ran while the previous disconnect was half applied")
	case <-time.After(50 * time.Millisecond):
	}
	close(counter.release)
	wg.Wait()

	assert.True(t, registry.IsOnline("u1"), "the new connection is open")
}
