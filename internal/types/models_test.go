package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageNullFields(t *testing.T) {
	msg := Message{Role: RoleAssistant, Timestamp: "2025-01-01T00:00:00Z"}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"role":"assistant","text":null,"timestamp":"2025-01-01T00:00:00Z","image":null,"cost":0}`,
		string(data))
}

func TestConversationSummary(t *testing.T) {
	c := &Conversation{
		ID:        NewConversationID(),
		Title:     "hello",
		CreatedAt: "2025-01-01T00:00:00Z",
		TotalCost: 0.08,
		History:   []Message{{Role: RoleUser}, {Role: RoleAssistant}},
	}

	s := c.Summary()
	require.Equal(t, c.ID, s.ID)
	require.Equal(t, 2, s.MessageCount)
	require.InDelta(t, 0.08, s.TotalCost, 1e-9)
}

func TestRoleValid(t *testing.T) {
	require.True(t, RoleUser.Valid())
	require.True(t, RoleAssistant.Valid())
	require.False(t, Role("system").Valid())
}
