package live

import "sync"

// Stream is the consumer side of a subscription: a channel of full-result
// snapshots plus a terminal error, readable after the channel closes.
type Stream struct {
	snapshots chan Snapshot

	mu  sync.Mutex
	err error

	once sync.Once
	done chan struct{}
}

// Snapshots returns the channel the subscription delivers on. It closes
// when the stream terminates (cancel, context done, or terminal error).
func (s *Stream) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Err reports the terminal error, if any, once Snapshots is closed. A nil
// error after close means the stream was canceled, not that it failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel tears the subscription down. Safe to call more than once.
func (s *Stream) Cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// push delivers a snapshot, replacing an undelivered one so a slow consumer
// always sees the latest state rather than a backlog of stale sets.
func (s *Stream) push(snap Snapshot) {
	for {
		select {
		case s.snapshots <- snap:
			return
		default:
			select {
			case <-s.snapshots:
			default:
			}
		}
	}
}
