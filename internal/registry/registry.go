// Package registry implements the subscription registry (spec.md §4.4):
// it maps subscription keys to materialized item sets and their
// subscribers, and computes deltas against the previously published
// state.
package registry

import (
	"sync"

	"github.com/steveyegge/bdviewd/internal/viewset"
)

// Subscriber is anything that can receive a published delta. Sessions
// implement this; it is kept minimal so the registry has no dependency
// on the session/transport packages (breaking the cyclic reference the
// spec flags in its design notes).
type Subscriber interface {
	// ID uniquely identifies the subscriber for set membership.
	ID() string
	// Deliver is called with a ready-to-send delta event. Delivery
	// failures are the subscriber's own problem; the registry never
	// blocks or retries on behalf of a slow or dead subscriber.
	Deliver(key string, delta Delta)
}

// Delta is the (added, updated, removed) triple from spec.md §4.4.
// Added and Updated carry full items; Removed carries only ids.
type Delta struct {
	Added   []viewset.Issue
	Updated []viewset.Issue
	Removed []string
}

// Empty reports whether the delta has nothing to publish.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

type entry struct {
	key         string
	itemsByID   map[string]viewset.Issue
	subscribers map[string]Subscriber
}

// Registry owns every active subscription entry. The registry-wide
// lock guards only entry lifecycle and subscriber-set membership;
// per-key serialization of refresh+apply+publish is the caller's
// responsibility (internal/scheduler), per spec.md §5.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Attach derives the key for (subType, params) — callers pass a
// pre-derived key since viewset.KeyOf has no registry dependency —
// creates the entry if absent, and adds sub to its subscriber set.
// Idempotent per (key, sub.ID()): attaching twice leaves one occurrence.
func (r *Registry) Attach(key string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{
			key:         key,
			itemsByID:   make(map[string]viewset.Issue),
			subscribers: make(map[string]Subscriber),
		}
		r.entries[key] = e
	}
	e.subscribers[sub.ID()] = sub
}

// Detach removes sub from key's subscriber set; if the set becomes
// empty the entry (and its items_by_id) is destroyed. Returns whether
// sub was actually subscribed.
func (r *Registry) Detach(key string, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if _, present := e.subscribers[sub.ID()]; !present {
		return false
	}
	delete(e.subscribers, sub.ID())
	if len(e.subscribers) == 0 {
		delete(r.entries, key)
	}
	return true
}

// OnDisconnect removes sub from every entry's subscriber set, destroying
// any entry that becomes empty as a result.
func (r *Registry) OnDisconnect(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if _, present := e.subscribers[sub.ID()]; present {
			delete(e.subscribers, sub.ID())
			if len(e.subscribers) == 0 {
				delete(r.entries, key)
			}
		}
	}
}

// ActiveKeys returns a snapshot of every currently active subscription
// key, used by the debounced global refresh (spec.md §4.5).
func (r *Registry) ActiveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	return keys
}

// ApplyItems replaces key's items_by_id with items, computing the delta
// against the previous set per spec.md §4.4:
//   - added: ids present in new, absent in old.
//   - updated: ids present in both whose updated_at differs (ties are
//     not updates — idempotence under retransmit).
//   - removed: ids present in old, absent in new.
//
// Staleness gating (spec.md invariant 4): if an item's updated_at would
// decrease, it is stored but never reported as updated.
//
// If the entry does not exist (all subscribers detached mid-refresh),
// ApplyItems is a no-op returning an empty delta.
func (r *Registry) ApplyItems(key string, items []viewset.Issue) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Delta{}
	}

	newByID := make(map[string]viewset.Issue, len(items))
	for _, item := range items {
		newByID[item.ID] = item
	}

	var delta Delta
	for id, newItem := range newByID {
		oldItem, existed := e.itemsByID[id]
		if !existed {
			delta.Added = append(delta.Added, newItem)
			continue
		}
		if newItem.UpdatedAt > oldItem.UpdatedAt {
			delta.Updated = append(delta.Updated, newItem)
		}
		// Equal or decreased updated_at: not an update (ties are
		// idempotent retransmits; decreases are defensively ignored).
	}
	for id := range e.itemsByID {
		if _, stillPresent := newByID[id]; !stillPresent {
			delta.Removed = append(delta.Removed, id)
		}
	}

	e.itemsByID = newByID
	return delta
}

// Snapshot returns the currently stored items for key as an
// added-only delta, used to bootstrap a brand-new subscriber without
// waiting for the next refresh (spec.md §4.4 invariant: "an initial
// subscription receives the current state as a single added-only
// delta").
func (r *Registry) Snapshot(key string) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Delta{}
	}
	items := make([]viewset.Issue, 0, len(e.itemsByID))
	for _, item := range e.itemsByID {
		items = append(items, item)
	}
	return Delta{Added: items}
}

// PublishDelta sends delta to every current subscriber of key. The
// subscriber set is copied out under the registry lock and delivery
// happens after unlock, so one slow or failed Deliver call can never
// block the registry or other subscribers — grounded on
// internal/rpc/server_events.go's dispatchIssueEvent pattern.
func (r *Registry) PublishDelta(key string, delta Delta) {
	if delta.Empty() {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[key]
	var subs []Subscriber
	if ok {
		subs = make([]Subscriber, 0, len(e.subscribers))
		for _, sub := range e.subscribers {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Deliver(key, delta)
	}
}

// HasSubscribers reports whether key currently has at least one
// subscriber (used by the scheduler to skip wasted refreshes for keys
// that lost all subscribers mid-cycle).
func (r *Registry) HasSubscribers(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return ok && len(e.subscribers) > 0
}
