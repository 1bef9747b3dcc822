package session

import (
	"encoding/json"
	"testing"

	"github.com/steveyegge/bdviewd/internal/registry"
	"github.com/steveyegge/bdviewd/internal/viewset"
	"github.com/steveyegge/bdviewd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindLabelIdempotentReplace(t *testing.T) {
	s := New("sess-1")

	prev, had := s.BindLabel("my-list", "ready")
	assert.False(t, had)
	assert.Empty(t, prev)

	prev, had = s.BindLabel("my-list", "blocked")
	assert.True(t, had)
	assert.Equal(t, "ready", prev, "re-subscribing under the same label must report the old key for detach")

	keys := s.AllKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, "blocked", keys[0])
}

func TestUnbindLabelReturnsKey(t *testing.T) {
	s := New("sess-1")
	s.BindLabel("a", "ready")

	key, ok := s.UnbindLabel("a")
	assert.True(t, ok)
	assert.Equal(t, "ready", key)

	_, ok = s.UnbindLabel("a")
	assert.False(t, ok)
}

func TestEventsSubscribedToggle(t *testing.T) {
	s := New("sess-1")
	assert.False(t, s.EventsSubscribed())
	s.SetEventsSubscribed(true)
	assert.True(t, s.EventsSubscribed())
}

func TestDetailIDRoundTrip(t *testing.T) {
	s := New("sess-1")
	assert.Empty(t, s.DetailID())
	s.SetDetailID("bd-42")
	assert.Equal(t, "bd-42", s.DetailID())
}

func TestListFiltersMatches(t *testing.T) {
	var nilFilters *ListFilters
	assert.False(t, nilFilters.Matches("open"))

	f := &ListFilters{Status: "open"}
	assert.True(t, f.Matches("open"))
	assert.False(t, f.Matches("closed"))

	f2 := &ListFilters{Ready: true}
	assert.True(t, f2.Matches("anything"), "a ready/blocked scope hint matches regardless of status")
}

func TestDeliverEnqueuesListDeltaFrame(t *testing.T) {
	s := New("sess-1")
	delta := registry.Delta{Added: []viewset.Issue{{ID: "A", UpdatedAt: 1}}}

	s.Deliver("all-issues", delta)

	select {
	case frame := <-s.send:
		var env wire.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, wire.TypeListDelta, env.Type)
	default:
		t.Fatal("expected a frame to be enqueued")
	}
}

func TestDeliverDropsOnFullQueue(t *testing.T) {
	s := New("sess-1")
	for i := 0; i < cap(s.send)+5; i++ {
		s.Deliver("k", registry.Delta{Added: []viewset.Issue{{ID: "A", UpdatedAt: int64(i + 1)}}})
	}
	assert.Len(t, s.send, cap(s.send), "a saturated send queue must drop frames, never block the publisher")
}
