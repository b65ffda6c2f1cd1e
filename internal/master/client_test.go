package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/qduel/internal/protocol"
)

func TestClient_SendAfterClose(t *testing.T) {
	h := NewHub(HubConfig{})
	c := NewClient(h, nil, "s1", "u1", "alice")

	c.close()
	c.close() // idempotent

	require.NotPanics(t, func() {
		c.SendEvent(protocol.ServerEvent{Event: protocol.EventNextQuestion})
	})
}

func TestHub_DeliveryRacingDisconnect(t *testing.T) {
	h := NewHub(HubConfig{})
	go h.Run()
	defer h.Stop()

	c := NewClient(h, nil, "s1", "u1", "alice")
	h.register <- c
	h.unregister <- c

	require.Eventually(t, func() bool {
		h.clientMu.RLock()
		defer h.clientMu.RUnlock()
		_, ok := h.clients["s1"]
		return !ok
	}, time.Second, 5*time.Millisecond, "the hub should process the unregister")

	// A worker goroutine or timer callback that fetched the client before the
	// disconnect may still try to deliver; the event is dropped, not a crash.
	require.NotPanics(t, func() {
		c.SendEvent(protocol.ServerEvent{Event: protocol.EventMatchCompleted})
		h.ToSocket("s1", protocol.ServerEvent{Event: protocol.EventMatchCompleted})
	})
}
