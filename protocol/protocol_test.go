package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"type":"privateMessage","data":{"from":"a","to":"b","content":"hi","type":"text"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypePrivateMessage, evt.Type)

	var p PrivateMessagePayload
	require.NoError(t, evt.Decode(&p))
	assert.Equal(t, PrivateMessagePayload{From: "a", To: "b", Content: "hi", Type: "text"}, p)
}

func TestParseEventInvalid(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `hello`,
		"missing type": `{"data":{}}`,
		"empty":        ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestDecodeWrongShape(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"type":"message","data":[1,2]}`))
	require.NoError(t, err)

	var p ChatPayload
	assert.ErrorIs(t, evt.Decode(&p), ErrInvalidEvent)
}

func TestDecodeWithoutData(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"type":"getOnlineUsers"}`))
	require.NoError(t, err)

	var p UsernamePayload
	assert.NoError(t, evt.Decode(&p))
	assert.Empty(t, p.Username)
}

func TestLoginName(t *testing.T) {
	for name, raw := range map[string]string{
		"bare string": `{"type":"join","data":"alice"}`,
		"object":      `{"type":"login","data":{"username":"alice"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			evt, err := ParseEvent([]byte(raw))
			require.NoError(t, err)
			got, err := evt.LoginName()
			require.NoError(t, err)
			assert.Equal(t, "alice", got)
		})
	}
}

func TestEncode(t *testing.T) {
	raw, err := Encode(TypeUserList, UserListPayload{Users: []string{"a", "b"}})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeUserList, decoded["type"])
	assert.Equal(t, map[string]any{"users": []any{"a", "b"}}, decoded["data"])

	raw, err = Encode(TypeUserList, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"userList"}`, string(raw))
}
