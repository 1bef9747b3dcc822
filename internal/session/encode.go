package session

import (
	"encoding/json"
	"time"

	"github.com/steveyegge/bdviewd/internal/registry"
	"github.com/steveyegge/bdviewd/internal/wire"
)

// listDelta is the nested delta object inside a list-delta event
// (spec.md §6.1).
type listDelta struct {
	Added   []json.RawMessage `json:"added,omitempty"`
	Updated []json.RawMessage `json:"updated,omitempty"`
	Removed []string          `json:"removed,omitempty"`
}

// listDeltaPayload is the JSON payload shape of a list-delta event
// (spec.md §6.1).
type listDeltaPayload struct {
	Key   string    `json:"key"`
	Delta listDelta `json:"delta"`
}

func encodeListDelta(key string, delta registry.Delta) ([]byte, error) {
	payload := listDeltaPayload{Key: key, Delta: listDelta{Removed: delta.Removed}}
	for _, item := range delta.Added {
		raw, err := item.MarshalJSON()
		if err != nil {
			return nil, err
		}
		payload.Delta.Added = append(payload.Delta.Added, raw)
	}
	for _, item := range delta.Updated {
		raw, err := item.MarshalJSON()
		if err != nil {
			return nil, err
		}
		payload.Delta.Updated = append(payload.Delta.Updated, raw)
	}

	env, err := wire.Event("", wire.TypeListDelta, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// SendEnvelope marshals env and enqueues it for delivery to this
// session's own connection, used by the dispatcher to deliver a reply
// to the request's originating session.
func (s *Session) SendEnvelope(env wire.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.enqueue(frame)
	return nil
}

// issuesChangedHint carries the optional set of ids a recipient can use
// to decide whether to act on an issues-changed event without a full
// resync, per spec.md §6.1.
type issuesChangedHint struct {
	IDs []string `json:"ids"`
}

// issuesChangedPayload is the JSON payload shape of an issues-changed
// event (spec.md §6.1).
type issuesChangedPayload struct {
	TS   int64              `json:"ts"`
	Hint *issuesChangedHint `json:"hint,omitempty"`
}

// EncodeIssuesChanged builds the "something changed" event used for
// both targeted and broadcast delivery after a mutation, per spec.md
// §4.8.
func EncodeIssuesChanged(ids []string) ([]byte, error) {
	payload := issuesChangedPayload{TS: time.Now().UnixMilli()}
	if len(ids) > 0 {
		payload.Hint = &issuesChangedHint{IDs: ids}
	}

	env, err := wire.Event("", wire.TypeIssuesChanged, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
