// Package mutate implements the mutation handlers (spec.md §4.8):
// validating a mutation payload, invoking the tracker CLI, re-fetching
// authoritative state, and fanning the resulting issues-changed event
// out to the sessions that are likely to care.
package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/steveyegge/bdviewd/internal/cliexec"
	"github.com/steveyegge/bdviewd/internal/metrics"
	"github.com/steveyegge/bdviewd/internal/scheduler"
	"github.com/steveyegge/bdviewd/internal/session"
	"github.com/steveyegge/bdviewd/internal/viewset"
	"github.com/steveyegge/bdviewd/internal/wire"
)

// Hub is the subset of *session.Hub the mutation fan-out needs.
type Hub interface {
	Sessions() []*session.Session
	Broadcast(frame []byte, accept func(*session.Session) bool)
}

// Invalidator is the subset of *scheduler.Scheduler needed to arm the
// debounced global refresh after a successful mutation.
type Invalidator interface {
	ScheduleListRefresh(ctx context.Context)
}

var _ Invalidator = (*scheduler.Scheduler)(nil)

// Handler implements session.Dispatcher's mutation half.
type Handler struct {
	adapter *cliexec.Adapter
	sched   Invalidator
	hub     Hub
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Handler.
func New(adapter *cliexec.Adapter, sched Invalidator, hub Hub, logger *slog.Logger) *Handler {
	return &Handler{adapter: adapter, sched: sched, hub: hub, logger: logger}
}

// SetMetrics attaches m so mutation counts are recorded; nil is safe
// and leaves counting disabled.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Handle runs one mutation request to completion and returns the reply
// envelope to send back to the requesting session. Fan-out to other
// sessions happens as a side effect before Handle returns.
func (h *Handler) Handle(ctx context.Context, sess *session.Session, env wire.Envelope) wire.Envelope {
	if h.metrics != nil {
		h.metrics.Mutations.Add(ctx, 1)
	}

	argv, id, err := h.buildArgv(env)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, err.Error(), nil)
	}

	res, err := h.adapter.Run(ctx, argv)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}
	if res.Code != 0 {
		code := res.Code
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, "tracker command failed",
			wire.TrackerFailedDetails{ExitCode: &code})
	}

	// create-issue must learn the new id from stdout before it can
	// re-fetch; every other mutation already knows its target id.
	if env.Type == wire.TypeCreateIssue {
		var created struct {
			ID string `json:"id"`
		}
		if jerr := json.Unmarshal(res.Stdout, &created); jerr == nil && created.ID != "" {
			id = created.ID
		}
	}

	issue, ferr := h.refetch(ctx, id)
	if ferr != nil {
		// The mutation itself succeeded; a re-fetch failure only means
		// the reply/fan-out can't carry fresh state. Still acknowledge
		// success to the requester.
		h.logger.Warn("mutation re-fetch failed", "id", id, "error", ferr)
		reply, _ := wire.Reply(env.ID, map[string]string{"id": id})
		h.sched.ScheduleListRefresh(ctx)
		return reply
	}

	reply, err := wire.Reply(env.ID, issue)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "failed to encode reply", nil)
	}

	h.fanOut(issue)
	h.sched.ScheduleListRefresh(ctx)
	return reply
}

func (h *Handler) refetch(ctx context.Context, id string) (viewset.Issue, error) {
	res, err := h.adapter.Run(ctx, viewset.ShowIssueArgv(id))
	if err != nil {
		return viewset.Issue{}, err
	}
	if res.Code != 0 {
		return viewset.Issue{}, fmt.Errorf("show %s exited %d: %s", id, res.Code, string(res.Stderr))
	}
	return viewset.NormalizeSingle(res.Stdout)
}

// issueStatus reads the issue's "status" extra field, if present, for the
// fan-out scope check.
func issueStatus(issue viewset.Issue) string {
	raw, ok := issue.Extra["status"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// fanOut delivers an issues-changed event for issue to every session
// likely to care, falling back to a broadcast to every event-subscribed
// session when no session matches a narrower rule, per spec.md §4.8:
//  1. the session's current detail view is this issue.
//  2. the session's last list-issues scope hint matches this issue's
//     status.
//  3. broadcast to every event-subscribed session.
func (h *Handler) fanOut(issue viewset.Issue) {
	frame, err := session.EncodeIssuesChanged([]string{issue.ID})
	if err != nil {
		h.logger.Warn("failed to encode issues-changed event", "error", err)
		return
	}

	status := issueStatus(issue)
	sessions := h.hub.Sessions()

	matched := false
	for _, sess := range sessions {
		if targetMatches(sess, issue.ID, status) {
			matched = true
			break
		}
	}

	if matched {
		h.hub.Broadcast(frame, func(sess *session.Session) bool {
			return targetMatches(sess, issue.ID, status)
		})
		return
	}

	h.hub.Broadcast(frame, func(sess *session.Session) bool {
		return sess.EventsSubscribed()
	})
}

func targetMatches(sess *session.Session, id, status string) bool {
	if sess.DetailID() == id {
		return true
	}
	if sess.LastListFilters().Matches(status) {
		return true
	}
	return false
}

// buildArgv decodes env's payload and returns the tracker argv plus the
// target issue id (empty for create-issue, filled in after the CLI
// reports the new id).
func (h *Handler) buildArgv(env wire.Envelope) (argv []string, id string, err error) {
	switch env.Type {
	case wire.TypeUpdateStatus:
		var p updateStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"update", p.ID, "--status", p.Status}, p.ID, nil

	case wire.TypeUpdatePriority:
		var p updatePriorityPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"update", p.ID, "--priority", strconv.Itoa(p.Priority)}, p.ID, nil

	case wire.TypeUpdateAssignee:
		var p updateAssigneePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"update", p.ID, "--assignee", p.Assignee}, p.ID, nil

	case wire.TypeEditText:
		var p editTextPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"update", p.ID, editFieldFlags[p.Field], p.Value}, p.ID, nil

	case wire.TypeCreateIssue:
		var p createIssuePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		args := []string{"create", p.Title, "--json"}
		if p.Type != "" {
			args = append(args, "-t", p.Type)
		}
		if p.Priority != 0 {
			args = append(args, "-p", strconv.Itoa(p.Priority))
		}
		if p.Description != "" {
			args = append(args, "-d", p.Description)
		}
		return args, "", nil

	case wire.TypeDepAdd:
		var p depPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"dep", "add", p.A, p.B}, p.A, nil

	case wire.TypeDepRemove:
		var p depPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"dep", "remove", p.A, p.B}, p.A, nil

	case wire.TypeLabelAdd:
		var p labelPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"label", "add", p.ID, p.Label}, p.ID, nil

	case wire.TypeLabelRemove:
		var p labelPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "", err
		}
		if err := p.validate(); err != nil {
			return nil, "", err
		}
		return []string{"label", "remove", p.ID, p.Label}, p.ID, nil

	default:
		return nil, "", fmt.Errorf("not a mutation type: %s", env.Type)
	}
}
