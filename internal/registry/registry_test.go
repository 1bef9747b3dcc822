package registry

import (
	"sync"
	"testing"

	"github.com/steveyegge/bdviewd/internal/viewset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id      string
	mu      sync.Mutex
	deltas  []Delta
	keys    []string
}

func newFakeSub(id string) *fakeSub { return &fakeSub{id: id} }

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(key string, delta Delta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.deltas = append(f.deltas, delta)
}

func (f *fakeSub) last() Delta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deltas[len(f.deltas)-1]
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deltas)
}

func issue(id string, updatedAt int64) viewset.Issue {
	return viewset.Issue{ID: id, UpdatedAt: updatedAt}
}

func TestAttachIsIdempotent(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")

	r.Attach("all-issues", sub)
	r.Attach("all-issues", sub)

	delta := r.ApplyItems("all-issues", []viewset.Issue{issue("A", 1)})
	r.PublishDelta("all-issues", delta)

	assert.Equal(t, 1, sub.count(), "attaching twice must not duplicate delivery")
}

func TestApplyItemsDiffLaw(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")
	r.Attach("k", sub)

	r.ApplyItems("k", []viewset.Issue{issue("A", 1), issue("B", 2)})
	delta := r.ApplyItems("k", []viewset.Issue{issue("B", 3), issue("C", 1)})

	require.Len(t, delta.Added, 1)
	assert.Equal(t, "C", delta.Added[0].ID)
	require.Len(t, delta.Updated, 1)
	assert.Equal(t, "B", delta.Updated[0].ID)
	require.Len(t, delta.Removed, 1)
	assert.Equal(t, "A", delta.Removed[0])
}

func TestApplyItemsIdempotentRetransmit(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")
	r.Attach("k", sub)

	items := []viewset.Issue{issue("A", 1)}
	first := r.ApplyItems("k", items)
	assert.False(t, first.Empty())

	second := r.ApplyItems("k", items)
	assert.True(t, second.Empty())
}

func TestApplyItemsStalenessGating(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")
	r.Attach("k", sub)

	r.ApplyItems("k", []viewset.Issue{issue("A", 10)})
	delta := r.ApplyItems("k", []viewset.Issue{issue("A", 5)})

	assert.Empty(t, delta.Updated, "a decreasing updated_at must never be reported as an update")
}

func TestOnDisconnectEvictsAndDestroysEmptyEntries(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")
	r.Attach("k", sub)
	r.ApplyItems("k", []viewset.Issue{issue("A", 1)})

	r.OnDisconnect(sub)

	assert.Empty(t, r.ActiveKeys())
	assert.False(t, r.HasSubscribers("k"))
}

func TestDetachDestroysEntryOnlyWhenSubscribersEmpty(t *testing.T) {
	r := New()
	sub1 := newFakeSub("c1")
	sub2 := newFakeSub("c2")
	r.Attach("k", sub1)
	r.Attach("k", sub2)

	r.Detach("k", sub1)
	assert.True(t, r.HasSubscribers("k"), "entry survives while another subscriber remains")

	r.Detach("k", sub2)
	assert.False(t, r.HasSubscribers("k"))
}

func TestSnapshotIsAddedOnly(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")
	r.Attach("k", sub)
	r.ApplyItems("k", []viewset.Issue{issue("A", 1), issue("B", 2)})

	snap := r.Snapshot("k")
	assert.Len(t, snap.Added, 2)
	assert.Empty(t, snap.Updated)
	assert.Empty(t, snap.Removed)
}

func TestPublishDeltaSkipsEmptyDelta(t *testing.T) {
	r := New()
	sub := newFakeSub("c1")
	r.Attach("k", sub)

	r.PublishDelta("k", Delta{})
	assert.Equal(t, 0, sub.count())
}

func TestReSubscriptionAfterEvictionIsFresh(t *testing.T) {
	r := New()
	sub1 := newFakeSub("c1")
	r.Attach("k", sub1)
	r.ApplyItems("k", []viewset.Issue{issue("A", 1)})
	r.Detach("k", sub1)

	sub2 := newFakeSub("c2")
	r.Attach("k", sub2)
	snap := r.Snapshot("k")
	assert.Empty(t, snap.Added, "destroyed entry's items_by_id must not survive re-subscription")
}
