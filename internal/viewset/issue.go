// Package viewset translates subscription specs into tracker CLI
// invocations and normalizes the results into the Issue shape the rest
// of the daemon operates on.
package viewset

import (
	"encoding/json"
	"strconv"
	"time"
)

// Issue is the normalized view of a tracker entity. Only the fields the
// core needs to reason about (identity, staleness, closedness) are
// typed; everything else is carried through verbatim.
type Issue struct {
	ID        string
	UpdatedAt int64
	ClosedAt  *int64
	Extra     map[string]json.RawMessage
}

// MarshalJSON flattens Extra alongside the typed fields so clients see a
// single flat object, matching what the tracker CLI itself emits.
func (i Issue) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(i.Extra)+3)
	for k, v := range i.Extra {
		out[k] = v
	}

	idJSON, err := json.Marshal(i.ID)
	if err != nil {
		return nil, err
	}
	out["id"] = idJSON

	updatedJSON, err := json.Marshal(i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	out["updated_at"] = updatedJSON

	if i.ClosedAt != nil {
		closedJSON, err := json.Marshal(*i.ClosedAt)
		if err != nil {
			return nil, err
		}
		out["closed_at"] = closedJSON
	}

	return json.Marshal(out)
}

// normalizeRaw converts one raw tracker item into an Issue. Items with
// an empty id are rejected per §4.2 of the spec.
func normalizeRaw(raw map[string]json.RawMessage) (Issue, bool) {
	id, ok := decodeID(raw["id"])
	if !ok || id == "" {
		return Issue{}, false
	}

	issue := Issue{
		ID:        id,
		UpdatedAt: decodeTimestamp(raw["updated_at"]),
		ClosedAt:  decodeOptionalTimestamp(raw["closed_at"]),
		Extra:     make(map[string]json.RawMessage, len(raw)),
	}
	for k, v := range raw {
		if k == "id" || k == "updated_at" || k == "closed_at" {
			continue
		}
		issue.Extra[k] = v
	}
	return issue, true
}

func decodeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// decodeTimestamp parses updated_at per §4.2: numbers pass through as
// epoch ms, strings are parsed as RFC-3339, anything else is zero.
func decodeTimestamp(raw json.RawMessage) int64 {
	if ts, ok := decodeOptionalRawTimestamp(raw); ok {
		return ts
	}
	return 0
}

func decodeOptionalTimestamp(raw json.RawMessage) *int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	ts, ok := decodeOptionalRawTimestamp(raw)
	if !ok {
		return nil
	}
	return &ts
}

func decodeOptionalRawTimestamp(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return 0, false
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli(), true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
