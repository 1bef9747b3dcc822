package mutate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/steveyegge/bdviewd/internal/cliexec"
	"github.com/steveyegge/bdviewd/internal/session"
	"github.com/steveyegge/bdviewd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeBin(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake bin scripts are POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fakebd")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) ScheduleListRefresh(ctx context.Context) { f.calls++ }

type fakeHub struct {
	sessions    []*session.Session
	broadcasts  [][]string
}

func (f *fakeHub) Sessions() []*session.Session { return f.sessions }

func (f *fakeHub) Broadcast(frame []byte, accept func(*session.Session) bool) {
	var ids []string
	for _, s := range f.sessions {
		if accept(s) {
			ids = append(ids, s.ID())
		}
	}
	f.broadcasts = append(f.broadcasts, ids)
}

const showAndUpdateScript = `
if [ "$1" = "show" ]; then
  echo -n '{"id":"'"$2"'","updated_at":2,"status":"open"}'
  exit 0
fi
if [ "$1" = "create" ]; then
  echo -n '{"id":"bd-99"}'
  exit 0
fi
exit 0
`

func TestHandleUpdateStatusSuccess(t *testing.T) {
	bin := writeFakeBin(t, showAndUpdateScript)
	adapter := &cliexec.Adapter{Bin: bin}
	inv := &fakeInvalidator{}
	hub := &fakeHub{}
	h := New(adapter, inv, hub, discardLogger())

	sess := session.New("s1")
	env := wire.Envelope{ID: "req-1", Type: wire.TypeUpdateStatus, Payload: []byte(`{"id":"bd-1","status":"in_progress"}`)}

	reply := h.Handle(context.Background(), sess, env)
	require.NotNil(t, reply.OK)
	assert.True(t, *reply.OK)
	assert.Equal(t, "req-1", reply.ID)
	assert.Equal(t, 1, inv.calls, "a successful mutation must arm the debounced refresh")
}

func TestHandleValidationError(t *testing.T) {
	bin := writeFakeBin(t, showAndUpdateScript)
	adapter := &cliexec.Adapter{Bin: bin}
	h := New(adapter, &fakeInvalidator{}, &fakeHub{}, discardLogger())

	sess := session.New("s1")
	env := wire.Envelope{ID: "req-1", Type: wire.TypeUpdateStatus, Payload: []byte(`{"id":"bd-1"}`)}

	reply := h.Handle(context.Background(), sess, env)
	require.NotNil(t, reply.OK)
	assert.False(t, *reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, string(wire.KindBadRequest), reply.Error.Code)
}

func TestHandleTrackerFailure(t *testing.T) {
	bin := writeFakeBin(t, `exit 1`)
	adapter := &cliexec.Adapter{Bin: bin}
	h := New(adapter, &fakeInvalidator{}, &fakeHub{}, discardLogger())

	sess := session.New("s1")
	env := wire.Envelope{ID: "req-1", Type: wire.TypeUpdateStatus, Payload: []byte(`{"id":"bd-1","status":"open"}`)}

	reply := h.Handle(context.Background(), sess, env)
	require.NotNil(t, reply.OK)
	assert.False(t, *reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, string(wire.KindTrackerFailed), reply.Error.Code)
}

func TestHandleCreateIssueRefetchesNewID(t *testing.T) {
	bin := writeFakeBin(t, showAndUpdateScript)
	adapter := &cliexec.Adapter{Bin: bin}
	h := New(adapter, &fakeInvalidator{}, &fakeHub{}, discardLogger())

	sess := session.New("s1")
	env := wire.Envelope{ID: "req-1", Type: wire.TypeCreateIssue, Payload: []byte(`{"title":"New thing"}`)}

	reply := h.Handle(context.Background(), sess, env)
	require.NotNil(t, reply.OK)
	assert.True(t, *reply.OK)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.Equal(t, "bd-99", payload["id"])
}

func TestFanOutPrefersDetailIDMatch(t *testing.T) {
	bin := writeFakeBin(t, showAndUpdateScript)
	adapter := &cliexec.Adapter{Bin: bin}

	viewer := session.New("viewer")
	viewer.SetDetailID("bd-1")
	bystander := session.New("bystander")

	hub := &fakeHub{sessions: []*session.Session{viewer, bystander}}
	h := New(adapter, &fakeInvalidator{}, hub, discardLogger())

	env := wire.Envelope{ID: "req-1", Type: wire.TypeUpdateStatus, Payload: []byte(`{"id":"bd-1","status":"open"}`)}
	h.Handle(context.Background(), session.New("requester"), env)

	require.Len(t, hub.broadcasts, 1)
	assert.Equal(t, []string{"viewer"}, hub.broadcasts[0])
}

func TestFanOutFallsBackToBroadcastWhenNothingMatches(t *testing.T) {
	bin := writeFakeBin(t, showAndUpdateScript)
	adapter := &cliexec.Adapter{Bin: bin}

	idle := session.New("idle")
	idle.SetEventsSubscribed(true)

	hub := &fakeHub{sessions: []*session.Session{idle}}
	h := New(adapter, &fakeInvalidator{}, hub, discardLogger())

	env := wire.Envelope{ID: "req-1", Type: wire.TypeUpdateStatus, Payload: []byte(`{"id":"bd-1","status":"open"}`)}
	h.Handle(context.Background(), session.New("requester"), env)

	require.Len(t, hub.broadcasts, 1)
	assert.Equal(t, []string{"idle"}, hub.broadcasts[0])
}
