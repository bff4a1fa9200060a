// Package join resolves denormalized profile fields at read time. The store
// keeps usernames on posts and comments; the client wants an avatar next to
// each one, so snapshots are decorated here before delivery.
package join

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/apperr"
)

// LookupFunc fetches one user's profile image URL by username. An empty
// string with a nil error means the user exists but has no image set.
type LookupFunc func(ctx context.Context, username string) (string, error)

// StoreLookup builds a LookupFunc over the users table.
func StoreLookup(conn *sql.DB) LookupFunc {
	return func(ctx context.Context, username string) (string, error) {
		var url sql.NullString
		err := conn.QueryRowContext(ctx,
			"SELECT profile_image_url FROM users WHERE username = ?", username,
		).Scan(&url)
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.NotFound("user " + username)
		}
		if err != nil {
			return "", err
		}
		return url.String, nil
	}
}

const (
	defaultWorkers  = 8
	defaultCacheCap = 1024
)

// Resolver maps usernames to profile image URLs with a bounded cache.
// A failed or missing lookup degrades to the default image instead of
// failing the batch it belongs to.
type Resolver struct {
	lookup       LookupFunc
	defaultImage string
	workers      int
	log          zerolog.Logger

	mu       sync.Mutex
	cache    map[string]string
	cacheCap int
}

func NewResolver(lookup LookupFunc, defaultImage string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		lookup:       lookup,
		defaultImage: defaultImage,
		workers:      defaultWorkers,
		log:          logger,
		cache:        make(map[string]string),
		cacheCap:     defaultCacheCap,
	}
}

// ProfileImage resolves a single username.
func (r *Resolver) ProfileImage(ctx context.Context, username string) string {
	return r.ProfileImages(ctx, []string{username})[0]
}

// ProfileImages resolves a batch of usernames concurrently. The returned
// slice lines up index-for-index with the input regardless of lookup
// completion order. Duplicates within the batch are looked up once.
func (r *Resolver) ProfileImages(ctx context.Context, usernames []string) []string {
	out := make([]string, len(usernames))

	// Dedupe first so a thread with one busy author costs one lookup.
	pending := make(map[string][]int, len(usernames))
	for i, name := range usernames {
		if url, ok := r.cached(name); ok {
			out[i] = url
			continue
		}
		pending[name] = append(pending[name], i)
	}
	if len(pending) == 0 {
		return out
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.workers)
	for name, idxs := range pending {
		wg.Add(1)
		go func(name string, idxs []int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			url := r.resolve(ctx, name)
			for _, i := range idxs {
				out[i] = url
			}
		}(name, idxs)
	}
	wg.Wait()
	return out
}

func (r *Resolver) resolve(ctx context.Context, username string) string {
	url, err := r.lookup(ctx, username)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			r.log.Warn().Err(err).Str("username", username).
				Msg("profile lookup failed, using default image")
		}
		return r.defaultImage
	}
	if url == "" {
		url = r.defaultImage
	}
	r.store(username, url)
	return url
}

func (r *Resolver) cached(username string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	url, ok := r.cache[username]
	return url, ok
}

func (r *Resolver) store(username, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= r.cacheCap {
		// Drop an arbitrary entry; good enough for a cache this small.
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[username] = url
}
