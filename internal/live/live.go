// Package live wraps the store behind a live-query abstraction: a
// subscription re-runs its query whenever a matching change is published
// and delivers the full ordered result set, never a diff.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/apperr"
)

type Collection string

const (
	CollectionRooms       Collection = "rooms"
	CollectionMessages    Collection = "messages"
	CollectionPosts       Collection = "posts"
	CollectionComments    Collection = "comments"
	CollectionEmergencies Collection = "emergencies"
	CollectionUsers       Collection = "users"
)

// Event marks a committed change to a collection. Scope narrows the change
// to one parent document (a room, a concert, a post); empty means the whole
// collection.
type Event struct {
	Collection Collection
	Scope      string
}

// Filter is an equality constraint on a query.
type Filter struct {
	Field string
	Value string
}

// Query describes what a subscription watches. Scope addresses a parent
// document the collection is nested under, mirroring a document-store path
// like concerts/{id}/threads.
type Query struct {
	Collection Collection
	Scope      string
	OrderBy    string
	Descending bool
	Filters    []Filter
}

// Snapshot is the full current result set for a query.
type Snapshot struct {
	Query Query
	Items []any
}

// FetchFunc runs a query against the backing store and returns the ordered
// result set. Registered per collection by the domain services.
type FetchFunc func(ctx context.Context, q Query) ([]any, error)

type subscription struct {
	query  Query
	notify chan struct{}
}

type Manager struct {
	mu       sync.RWMutex
	fetchers map[Collection]FetchFunc
	subs     map[int64]*subscription
	nextID   int64
	log      zerolog.Logger
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		fetchers: make(map[Collection]FetchFunc),
		subs:     make(map[int64]*subscription),
		log:      logger,
	}
}

// RegisterFetcher binds a collection name to the store query that serves it.
func (m *Manager) RegisterFetcher(c Collection, fn FetchFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchers[c] = fn
}

// Publish wakes every subscription whose query matches the changed
// collection and scope. Writers call this after committing.
func (m *Manager) Publish(evt Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if sub.query.Collection != evt.Collection {
			continue
		}
		if sub.query.Scope != "" && evt.Scope != "" && sub.query.Scope != evt.Scope {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
			// A refresh is already pending; bursts coalesce into one re-run.
		}
	}
}

// Subscribe starts a live query. The returned stream delivers an initial
// snapshot and then a fresh snapshot after every matching Publish. The
// caller must Cancel the stream when done or the goroutine leaks.
func (m *Manager) Subscribe(ctx context.Context, q Query) (*Stream, error) {
	m.mu.Lock()
	fetch, ok := m.fetchers[q.Collection]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("subscribe to %q: %w", q.Collection, apperr.Validation("unknown collection"))
	}

	m.nextID++
	id := m.nextID
	sub := &subscription{
		query:  q,
		notify: make(chan struct{}, 1),
	}
	m.subs[id] = sub
	m.mu.Unlock()

	stream := &Stream{
		snapshots: make(chan Snapshot, 1),
		done:      make(chan struct{}),
	}

	go m.run(ctx, id, sub, fetch, stream)
	return stream, nil
}

func (m *Manager) run(ctx context.Context, id int64, sub *subscription, fetch FetchFunc, stream *Stream) {
	defer func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		close(stream.snapshots)
	}()

	refresh := func() bool {
		items, err := fetch(ctx, sub.query)
		if err != nil {
			if errors.Is(err, apperr.ErrPermission) || errors.Is(err, apperr.ErrValidation) {
				// Terminal: a dead stream must be distinguishable from an
				// empty result set, so the error is recorded before close.
				stream.fail(err)
				return false
			}
			m.log.Warn().Err(err).
				Str("collection", string(sub.query.Collection)).
				Str("scope", sub.query.Scope).
				Msg("live query refresh failed, keeping subscription")
			return true
		}
		stream.push(Snapshot{Query: sub.query, Items: items})
		return true
	}

	if !refresh() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.done:
			return
		case <-sub.notify:
			if !refresh() {
				return
			}
		}
	}
}
