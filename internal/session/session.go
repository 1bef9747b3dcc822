// Package session implements the per-connection session state (spec.md
// §3, §4.9) and the WebSocket connection hub that carries it, grounded
// on the nixfleet dashboard Hub/Client pattern and
// whisper-darkly-sticky-dvr's gorilla/websocket client usage.
package session

import (
	"sync"

	"github.com/steveyegge/bdviewd/internal/registry"
)

// ListFilters is the optional hint recorded from a legacy list-issues
// request, used by mutation fan-out (spec.md §3, §4.8).
type ListFilters struct {
	Status  string
	Ready   bool
	Blocked bool
}

// Matches reports whether an updated entity with the given status is
// within this filter's scope, per spec.md §4.8 step 2.
func (f *ListFilters) Matches(status string) bool {
	if f == nil {
		return false
	}
	if f.Ready || f.Blocked {
		return true
	}
	return f.Status != "" && f.Status == status
}

// Session is the per-connection state from spec.md §3. All fields are
// owned by the connection's own goroutines; other goroutines (mutation
// fan-out) only read them, through the accessor methods below, which
// take the session's own lock for visibility across goroutines per
// spec.md §5.
type Session struct {
	id string

	mu               sync.Mutex
	eventsSubscribed bool
	listSubs         map[string]string // client label -> registry key
	detailID         string
	lastListFilters  *ListFilters

	send chan []byte
}

// New returns a new Session identified by id (typically a per-connection
// random token). The send channel is buffered so a burst of deltas does
// not synchronously block the publishing goroutine; when the buffer is
// full, enqueue drops the new frame, matching spec.md §7's requirement
// that one failing connection never blocks delivery to others.
func New(id string) *Session {
	return &Session{
		id:       id,
		listSubs: make(map[string]string),
		send:     make(chan []byte, 64),
	}
}

// ID satisfies registry.Subscriber.
func (s *Session) ID() string { return s.id }

// SetEventsSubscribed marks the session as wanting server-originated
// change events (spec.md §4.7 subscribe-updates).
func (s *Session) SetEventsSubscribed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsSubscribed = v
}

// EventsSubscribed reports the current events-enabled flag.
func (s *Session) EventsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsSubscribed
}

// BindLabel records that label now resolves to key, replacing any prior
// binding for the same label (open question 1: idempotent replace).
// Returns the previous key, if any, so the caller can detach it from
// the registry.
func (s *Session) BindLabel(label, key string) (previous string, hadPrevious bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, hadPrevious = s.listSubs[label]
	s.listSubs[label] = key
	return previous, hadPrevious
}

// UnbindLabel removes label's binding, returning the key it resolved
// to, if any.
func (s *Session) UnbindLabel(label string) (key string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok = s.listSubs[label]
	if ok {
		delete(s.listSubs, label)
	}
	return key, ok
}

// AllKeys returns every registry key this session currently holds a
// label for (may contain duplicates if two labels share a key), used
// when tearing down a session on disconnect.
func (s *Session) AllKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.listSubs))
	for _, key := range s.listSubs {
		keys = append(keys, key)
	}
	return keys
}

// SetDetailID records the issue id currently being viewed as detail.
func (s *Session) SetDetailID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailID = id
}

// DetailID returns the currently-viewed detail id, or "" if none.
func (s *Session) DetailID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detailID
}

// SetLastListFilters records the scope hint from a legacy list-issues
// request.
func (s *Session) SetLastListFilters(f ListFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastListFilters = &f
}

// LastListFilters returns the most recent legacy list scope hint, or
// nil if the session never issued a list-issues request.
func (s *Session) LastListFilters() *ListFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastListFilters
}

// Deliver satisfies registry.Subscriber: it marshals the delta into a
// list-delta wire event and enqueues it for the writer pump.
func (s *Session) Deliver(key string, delta registry.Delta) {
	frame, err := encodeListDelta(key, delta)
	if err != nil {
		return
	}
	s.enqueue(frame)
}

// enqueue pushes a pre-encoded frame onto the send channel, dropping it
// if the channel is full or already closed; it never blocks and never
// panics (spec.md §7).
func (s *Session) enqueue(frame []byte) {
	defer func() { recover() }() //nolint:errcheck // send on a closed channel during teardown
	select {
	case s.send <- frame:
	default:
	}
}
