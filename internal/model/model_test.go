package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnUnmarshalObjectAndLegacyPair(t *testing.T) {
	var h []Turn
	err := json.Unmarshal([]byte(`[{"role":"user","content":"hi"},["assistant","hello"]]`), &h)
	require.NoError(t, err)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, h)
}

func TestTurnUnmarshalRejectsBadPair(t *testing.T) {
	var turn Turn
	assert.Error(t, json.Unmarshal([]byte(`["user"]`), &turn))
	assert.Error(t, json.Unmarshal([]byte(`42`), &turn))
}

func TestTurnMarshalUsesObjectForm(t *testing.T) {
	b, err := json.Marshal(Turn{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(b))
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		history []Turn
		want    string
	}{
		{name: "empty", history: nil, want: ""},
		{name: "short", history: []Turn{{Role: RoleUser, Content: "hello"}}, want: "hello"},
		{name: "exactly twenty", history: []Turn{{Role: RoleUser, Content: "abcdefghijklmnopqrst"}}, want: "abcdefghijklmnopqrst"},
		{name: "truncated", history: []Turn{{Role: RoleUser, Content: "abcdefghijklmnopqrstuvwxyz"}}, want: "abcdefghijklmnopqrst"},
		{name: "multibyte counted by rune", history: []Turn{{Role: RoleUser, Content: "张三九的基本信息是什么请详细介绍一下他的病史和用药情况"}}, want: "张三九的基本信息是什么请详细介绍一下他的"},
		{name: "skips assistant", history: []Turn{{Role: RoleAssistant, Content: "welcome"}, {Role: RoleUser, Content: "question"}}, want: "question"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.history))
		})
	}
}

func TestCloneHistoryIsIndependent(t *testing.T) {
	h := []Turn{{Role: RoleUser, Content: "a"}}
	c := CloneHistory(h)
	c[0].Content = "b"
	assert.Equal(t, "a", h[0].Content)
}

func TestUserHidesPasswordHash(t *testing.T) {
	b, err := json.Marshal(User{ID: "1", Username: "alice", PasswordHash: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}
