package appstate

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGetUnknownUserIsZero(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	st := r.Get("u1")
	require.Equal(t, "u1", st.UserID)
	require.Empty(t, st.ActiveConcertID)
	require.False(t, st.Emergency)
}

func TestSetActiveConcert(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.SetActiveConcert("u1", "c1")
	require.Equal(t, "c1", r.Get("u1").ActiveConcertID)

	r.SetActiveConcert("u1", "")
	require.Empty(t, r.Get("u1").ActiveConcertID)
}

func TestEmergencyFlagIndependentOfConcert(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.SetActiveConcert("u1", "c1")
	r.SetEmergency("u1", true)

	st := r.Get("u1")
	require.Equal(t, "c1", st.ActiveConcertID)
	require.True(t, st.Emergency)

	r.SetEmergency("u1", false)
	require.False(t, r.Get("u1").Emergency)
	require.Equal(t, "c1", r.Get("u1").ActiveConcertID)
}

func TestOnChangeNotifiesAndUnsubscribes(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var mu sync.Mutex
	var seen []State
	cancel := r.OnChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	r.SetActiveConcert("u1", "c1")
	r.SetEmergency("u1", true)

	mu.Lock()
	require.Len(t, seen, 2)
	require.Equal(t, "c1", seen[1].ActiveConcertID)
	require.True(t, seen[1].Emergency)
	mu.Unlock()

	cancel()
	r.SetEmergency("u1", false)

	mu.Lock()
	require.Len(t, seen, 2)
	mu.Unlock()
}

func TestNoNotificationOnNoopChange(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	calls := 0
	r.OnChange(func(State) { calls++ })

	r.SetActiveConcert("u1", "c1")
	r.SetActiveConcert("u1", "c1")
	require.Equal(t, 1, calls)
}

func TestClearNotifiesWithZeroState(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.SetActiveConcert("u1", "c1")

	var last State
	r.OnChange(func(st State) { last = st })

	r.Clear("u1")
	require.Equal(t, "u1", last.UserID)
	require.Empty(t, last.ActiveConcertID)
	require.Equal(t, State{UserID: "u1"}, r.Get("u1"))
}

func TestListenerMayCallBackIntoRegistry(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.OnChange(func(st State) {
		// Reading back must not deadlock.
		_ = r.Get(st.UserID)
	})
	r.SetActiveConcert("u1", "c1")
	require.Equal(t, "c1", r.Get("u1").ActiveConcertID)
}
