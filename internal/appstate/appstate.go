// Package appstate tracks per-user session state that does not belong in
// the store: which concert the user currently has open and whether their
// emergency banner is raised. Interested components register callbacks and
// are invoked on every change.
package appstate

import (
	"sync"

	"github.com/rs/zerolog"
)

// State is one user's session snapshot.
type State struct {
	UserID          string
	ActiveConcertID string
	Emergency       bool
}

// Listener receives the new state after each change.
type Listener func(State)

type Registry struct {
	mu        sync.RWMutex
	states    map[string]State
	listeners map[int64]Listener
	nextID    int64
	log       zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		states:    make(map[string]State),
		listeners: make(map[int64]Listener),
		log:       logger,
	}
}

// Get returns the user's current state; a zero state for unknown users.
func (r *Registry) Get(userID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[userID]
	if !ok {
		return State{UserID: userID}
	}
	return st
}

// SetActiveConcert records which concert the user has open. An empty id
// clears it.
func (r *Registry) SetActiveConcert(userID, concertID string) {
	r.update(userID, func(st *State) { st.ActiveConcertID = concertID })
}

// SetEmergency raises or lowers the user's emergency banner.
func (r *Registry) SetEmergency(userID string, on bool) {
	r.update(userID, func(st *State) { st.Emergency = on })
}

// Clear drops the user's state entirely, typically on sign-out.
func (r *Registry) Clear(userID string) {
	r.mu.Lock()
	_, had := r.states[userID]
	delete(r.states, userID)
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	if had {
		for _, fn := range listeners {
			fn(State{UserID: userID})
		}
	}
}

// OnChange registers a listener and returns a function that removes it.
func (r *Registry) OnChange(fn Listener) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) update(userID string, mutate func(*State)) {
	r.mu.Lock()
	st, ok := r.states[userID]
	if !ok {
		st = State{UserID: userID}
	}
	before := st
	mutate(&st)
	if st == before && ok {
		r.mu.Unlock()
		return
	}
	r.states[userID] = st
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	// Listeners run outside the lock so one of them calling back into the
	// registry cannot deadlock.
	for _, fn := range listeners {
		fn(st)
	}
}

func (r *Registry) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		out = append(out, fn)
	}
	return out
}
