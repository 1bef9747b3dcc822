// Package wire defines the JSON message envelope exchanged over the
// browser-facing duplex channel: client requests, server replies, and
// server-initiated events, per spec.md §6.1.
package wire

import "encoding/json"

// Request/event type tags, the closed set from spec.md §6.1.
const (
	TypePing             = "ping"
	TypeSubscribeUpdates = "subscribe-updates"
	TypeSubscribeList    = "subscribe-list"
	TypeUnsubscribeList  = "unsubscribe-list"
	TypeShowIssue        = "show-issue"
	TypeListIssues       = "list-issues"
	TypeEpicStatus       = "epic-status"
	TypeUpdateStatus     = "update-status"
	TypeUpdatePriority   = "update-priority"
	TypeUpdateAssignee   = "update-assignee"
	TypeEditText         = "edit-text"
	TypeCreateIssue      = "create-issue"
	TypeDepAdd           = "dep-add"
	TypeDepRemove        = "dep-remove"
	TypeLabelAdd         = "label-add"
	TypeLabelRemove      = "label-remove"

	// Server-initiated event types.
	TypeListDelta     = "list-delta"
	TypeIssuesChanged = "issues-changed"
)

// RequestTypes is the closed set of client-initiated frame types.
var RequestTypes = map[string]bool{
	TypePing:             true,
	TypeSubscribeUpdates: true,
	TypeSubscribeList:    true,
	TypeUnsubscribeList:  true,
	TypeShowIssue:        true,
	TypeListIssues:       true,
	TypeEpicStatus:       true,
	TypeUpdateStatus:     true,
	TypeUpdatePriority:   true,
	TypeUpdateAssignee:   true,
	TypeEditText:         true,
	TypeCreateIssue:      true,
	TypeDepAdd:           true,
	TypeDepRemove:        true,
	TypeLabelAdd:         true,
	TypeLabelRemove:      true,
}

// MutationTypes is the subset of RequestTypes handled by internal/mutate.
var MutationTypes = map[string]bool{
	TypeUpdateStatus:   true,
	TypeUpdatePriority: true,
	TypeUpdateAssignee: true,
	TypeEditText:       true,
	TypeCreateIssue:    true,
	TypeDepAdd:         true,
	TypeDepRemove:      true,
	TypeLabelAdd:       true,
	TypeLabelRemove:    true,
}

// Envelope is the common frame shape for every message on the wire.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the {code, message, [details]} shape from spec.md §6.1.
type WireError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// Reply builds an OK reply envelope sharing the request's correlation
// id. Error replies are built with ErrorReply.
func Reply(id string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, OK: boolPtr(true), Payload: raw}, nil
}

// ErrorReply builds an error reply envelope. id may be "unknown" for
// malformed frames per spec.md §7.
func ErrorReply(id string, kind ErrorKind, message string, details any) Envelope {
	var detailsRaw json.RawMessage
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			detailsRaw = raw
		}
	}
	return Envelope{
		ID: id,
		OK: boolPtr(false),
		Error: &WireError{
			Code:    string(kind),
			Message: message,
			Details: detailsRaw,
		},
	}
}

// Event builds a server-initiated event envelope. Correlation ids for
// events are server-chosen and the client is expected to ignore them,
// per spec.md §6.1.
func Event(id, eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, Type: eventType, OK: boolPtr(true), Payload: raw}, nil
}
