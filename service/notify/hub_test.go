package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPushSurvivesConcurrentRemove(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// A non-reading client with a tiny buffer so pushes trip removal.
	c := &client{send: make(chan []byte, 1), userID: 7}
	hub.add(c)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Push(7, []byte("event"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.remove(c)
	}()
	wg.Wait()

	require.False(t, c.trySend([]byte("late")), "closed client must refuse sends instead of panicking")

	hub.mu.RLock()
	_, registered := hub.connections[7]
	hub.mu.RUnlock()
	require.False(t, registered)
}

func TestRemoveIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c := &client{send: make(chan []byte, 1), userID: 3}
	hub.add(c)

	hub.remove(c)
	hub.remove(c)

	require.False(t, c.trySend([]byte("x")))
}

func TestPushFansOutToEveryOpenSocket(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := &client{send: make(chan []byte, 4), userID: 5}
	second := &client{send: make(chan []byte, 4), userID: 5}
	other := &client{send: make(chan []byte, 4), userID: 6}
	hub.add(first)
	hub.add(second)
	hub.add(other)

	hub.Push(5, []byte("hello"))

	require.Len(t, first.send, 1)
	require.Len(t, second.send, 1)
	require.Len(t, other.send, 0)
}
