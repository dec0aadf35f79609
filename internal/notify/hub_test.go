package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubscriber(h *Hub, caseID string, buffer int) *Subscriber {
	return &Subscriber{
		CaseID:     caseID,
		Send:       make(chan []byte, buffer),
		hub:        h,
		lastActive: time.Now(),
	}
}

func TestHub_DeliversToRoom(t *testing.T) {
	h := NewHub()
	h.Start()

	sub := testSubscriber(h, "case-1", 4)
	h.register <- sub

	h.FingerprintFailed("case-1", "fp-1", "image decode failed")

	select {
	case data := <-sub.Send:
		var event Event
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, EventFingerprintFailed, event.Type)
		assert.Equal(t, "case-1", event.CaseID)
	case <-time.After(time.Second):
		t.Fatal("event never reached the subscriber")
	}

	sub.drop()
	h.Shutdown()
}

func TestHub_EventsScopedToCase(t *testing.T) {
	h := NewHub()
	h.Start()

	watcher := testSubscriber(h, "case-other", 4)
	h.register <- watcher

	h.FingerprintFailed("case-1", "fp-1", "nope")

	select {
	case <-watcher.Send:
		t.Fatal("subscriber received an event for another case")
	case <-time.After(100 * time.Millisecond):
	}

	watcher.drop()
	h.Shutdown()
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	h := NewHub()
	h.Start()

	sub := testSubscriber(h, "case-1", 1)
	sub.Send <- []byte("backlog") // fill the buffer
	h.register <- sub

	// The event loop itself handles the overflow. If it tried to send on
	// its own unregister channel here it would deadlock the whole hub.
	h.FingerprintFailed("case-1", "fp-1", "overflow")

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.rooms["case-1"]) == 0
	}, time.Second, 10*time.Millisecond, "slow subscriber must be removed from its room")

	// Its Send channel is closed once the backlog is drained
	<-sub.Send
	_, open := <-sub.Send
	assert.False(t, open)

	h.Shutdown()
}

func TestSubscriber_DropAfterShutdownDoesNotBlock(t *testing.T) {
	h := NewHub()
	h.Start()

	sub := testSubscriber(h, "case-1", 1)
	h.Shutdown()

	// With the event loop gone nobody receives on h.unregister; the
	// connection teardown must still return.
	released := make(chan struct{})
	go func() {
		sub.drop()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("drop blocked after hub shutdown")
	}
}

func TestHub_PublishAfterShutdownIsNoop(t *testing.T) {
	h := NewHub()
	h.Start()
	h.Shutdown()

	// Must not block or panic; notifications are best-effort
	h.FingerprintFailed("case-1", "fp-1", "late event")
	h.MatchFound("case-1", nil)
}
