package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyMarshalsOKTrue(t *testing.T) {
	env, err := Reply("r1", map[string]string{"key": "ABC"})
	require.NoError(t, err)
	require.NotNil(t, env.OK)
	assert.True(t, *env.OK)
	assert.Equal(t, "r1", env.ID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "ABC", payload["key"])
}

func TestErrorReplyShape(t *testing.T) {
	exitCode := 2
	env := ErrorReply("r2", KindTrackerFailed, "boom", TrackerFailedDetails{ExitCode: &exitCode})
	require.NotNil(t, env.OK)
	assert.False(t, *env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(KindTrackerFailed), env.Error.Code)
	assert.Equal(t, "boom", env.Error.Message)

	var details TrackerFailedDetails
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	require.NotNil(t, details.ExitCode)
	assert.Equal(t, 2, *details.ExitCode)
}

func TestEventEnvelope(t *testing.T) {
	env, err := Event("evt-1", TypeListDelta, map[string]string{"key": "all-issues"})
	require.NoError(t, err)
	assert.Equal(t, TypeListDelta, env.Type)
	require.NotNil(t, env.OK)
	assert.True(t, *env.OK)
}

func TestRequestTypesClosedSet(t *testing.T) {
	assert.True(t, RequestTypes[TypeSubscribeList])
	assert.False(t, RequestTypes[TypeListDelta])
	assert.False(t, RequestTypes["bogus"])
}
