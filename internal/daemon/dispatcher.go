package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/steveyegge/bdviewd/internal/cliexec"
	"github.com/steveyegge/bdviewd/internal/metrics"
	"github.com/steveyegge/bdviewd/internal/mutate"
	"github.com/steveyegge/bdviewd/internal/registry"
	"github.com/steveyegge/bdviewd/internal/scheduler"
	"github.com/steveyegge/bdviewd/internal/session"
	"github.com/steveyegge/bdviewd/internal/viewset"
	"github.com/steveyegge/bdviewd/internal/wire"
)

// Dispatcher routes a decoded wire.Envelope to the registry, scheduler,
// or mutation handler and delivers the reply back to the requesting
// session, implementing session.Dispatcher.
type Dispatcher struct {
	reg     *registry.Registry
	sched   *scheduler.Scheduler
	adapter *cliexec.Adapter
	mutator *mutate.Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher returns a Dispatcher wired to the daemon's core
// components.
func NewDispatcher(reg *registry.Registry, sched *scheduler.Scheduler, adapter *cliexec.Adapter, mutator *mutate.Handler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, sched: sched, adapter: adapter, mutator: mutator, logger: logger}
}

// SetMetrics attaches m so subscription counts are recorded; nil is
// safe and leaves counting disabled.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

var _ session.Dispatcher = (*Dispatcher)(nil)

// Handle implements session.Dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, sess *session.Session, env wire.Envelope) {
	reply := d.route(ctx, sess, env)
	if err := sess.SendEnvelope(reply); err != nil {
		d.logger.Warn("failed to send reply", "type", env.Type, "error", err)
	}
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, env wire.Envelope) wire.Envelope {
	if wire.MutationTypes[env.Type] {
		return d.mutator.Handle(ctx, sess, env)
	}

	switch env.Type {
	case wire.TypePing:
		reply, _ := wire.Reply(env.ID, map[string]string{"type": "pong"})
		return reply

	case wire.TypeSubscribeUpdates:
		sess.SetEventsSubscribed(true)
		reply, _ := wire.Reply(env.ID, map[string]bool{"subscribed": true})
		return reply

	case wire.TypeSubscribeList:
		return d.handleSubscribeList(ctx, sess, env)

	case wire.TypeUnsubscribeList:
		return d.handleUnsubscribeList(sess, env)

	case wire.TypeShowIssue:
		return d.handleShowIssue(ctx, sess, env)

	case wire.TypeEpicStatus:
		return d.handleEpicStatus(ctx, env)

	case wire.TypeListIssues:
		return d.handleListIssues(ctx, sess, env)

	default:
		return wire.ErrorReply(env.ID, wire.KindUnknownType, "unknown request type: "+env.Type, nil)
	}
}

type subscribeListPayload struct {
	Label  string         `json:"id"`
	Type   string         `json:"type"`
	Params viewset.Params `json:"params,omitempty"`
}

func (d *Dispatcher) handleSubscribeList(ctx context.Context, sess *session.Session, env wire.Envelope) wire.Envelope {
	var p subscribeListPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "invalid subscribe-list payload", nil)
	}
	if p.Label == "" {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "id is required", nil)
	}

	subType := viewset.SubType(p.Type)
	if _, err := viewset.Argv(subType, p.Params); err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, err.Error(), nil)
	}

	key := viewset.KeyOf(p.Type, p.Params)
	if previous, had := sess.BindLabel(p.Label, key); had && previous != key {
		d.reg.Detach(previous, sess)
		d.subGauge(ctx, -1)
	}
	d.reg.Attach(key, sess)
	d.subGauge(ctx, 1)

	if err := d.sched.Refresh(ctx, scheduler.Spec{Key: key, SubType: subType, Params: p.Params}); err != nil {
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}

	reply, _ := wire.Reply(env.ID, map[string]string{"id": p.Label, "key": key})
	return reply
}

type unsubscribeListPayload struct {
	Label string `json:"id"`
}

func (d *Dispatcher) handleUnsubscribeList(sess *session.Session, env wire.Envelope) wire.Envelope {
	var p unsubscribeListPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "invalid unsubscribe-list payload", nil)
	}

	if key, ok := sess.UnbindLabel(p.Label); ok {
		d.reg.Detach(key, sess)
		d.subGauge(context.Background(), -1)
	}

	reply, _ := wire.Reply(env.ID, map[string]string{"id": p.Label})
	return reply
}

type showIssuePayload struct {
	ID string `json:"id"`
}

// handleShowIssue is a one-shot detail fetch (spec.md §4.7): it does not
// create a subscription, it just records the session's current detail
// id for mutation fan-out and replies with the normalized issue.
func (d *Dispatcher) handleShowIssue(ctx context.Context, sess *session.Session, env wire.Envelope) wire.Envelope {
	var p showIssuePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID == "" {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "id is required", nil)
	}

	res, err := d.adapter.Run(ctx, viewset.ShowIssueArgv(p.ID))
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}
	if res.Code != 0 {
		code := res.Code
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, "tracker command failed", wire.TrackerFailedDetails{ExitCode: &code})
	}

	issue, err := viewset.NormalizeSingle(res.Stdout)
	if err != nil {
		if errors.Is(err, viewset.ErrNotFound) {
			return wire.ErrorReply(env.ID, wire.KindNotFound, "issue not found", nil)
		}
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}

	sess.SetDetailID(p.ID)

	reply, err := wire.Reply(env.ID, issue)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "failed to encode reply", nil)
	}
	return reply
}

type epicStatusPayload struct {
	ID string `json:"id"`
}

func (d *Dispatcher) handleEpicStatus(ctx context.Context, env wire.Envelope) wire.Envelope {
	var p epicStatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID == "" {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "id is required", nil)
	}

	res, err := d.adapter.Run(ctx, viewset.EpicStatusArgv(p.ID))
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}
	if res.Code != 0 {
		code := res.Code
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, "tracker command failed", wire.TrackerFailedDetails{ExitCode: &code})
	}

	return wire.Envelope{ID: env.ID, OK: boolPtr(true), Payload: json.RawMessage(res.Stdout)}
}

type listIssuesPayload struct {
	Status  string `json:"status,omitempty"`
	Ready   bool   `json:"ready,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
}

// handleListIssues is the legacy non-pushing list request (spec.md
// §6.1): a one-shot snapshot that also records a scope hint used by
// mutation fan-out, without creating a live subscription.
func (d *Dispatcher) handleListIssues(ctx context.Context, sess *session.Session, env wire.Envelope) wire.Envelope {
	var p listIssuesPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "invalid list-issues payload", nil)
	}

	sess.SetLastListFilters(session.ListFilters{Status: p.Status, Ready: p.Ready, Blocked: p.Blocked})

	var subType viewset.SubType
	var params viewset.Params
	switch {
	case p.Ready:
		subType = viewset.ReadyIssues
	case p.Blocked:
		subType = viewset.BlockedIssues
	case p.Status == "closed":
		subType = viewset.ClosedIssues
	case p.Status == "in_progress":
		subType = viewset.InProgressIssues
	default:
		subType = viewset.AllIssues
	}

	argv, err := viewset.Argv(subType, params)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, err.Error(), nil)
	}

	res, err := d.adapter.Run(ctx, argv)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}
	if res.Code != 0 {
		code := res.Code
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, "tracker command failed", wire.TrackerFailedDetails{ExitCode: &code})
	}

	issues, err := viewset.Normalize(subType, params, res.Stdout)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindTrackerFailed, err.Error(), nil)
	}

	reply, err := wire.Reply(env.ID, issues)
	if err != nil {
		return wire.ErrorReply(env.ID, wire.KindBadRequest, "failed to encode reply", nil)
	}
	return reply
}

func boolPtr(b bool) *bool { return &b }

// subGauge adjusts the active-subscription gauge by delta; a no-op
// when metrics were never attached.
func (d *Dispatcher) subGauge(ctx context.Context, delta int64) {
	if d.metrics != nil {
		d.metrics.Subscriptions.Add(ctx, delta)
	}
}
