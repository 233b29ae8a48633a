package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAction_PayloadNeverNil(t *testing.T) {
	a := NewAction("echo", nil)
	assert.NotNil(t, a.Payload)
	assert.Empty(t, a.Payload)
}

func TestActionSet(t *testing.T) {
	tests := []struct {
		name         string
		set          ActionSet
		policy       string
		permits      bool
		empty        bool
		unrestricted bool
	}{
		{name: "zero value permits nothing", set: ActionSet{}, policy: "adder", permits: false, empty: true},
		{name: "empty allow permits nothing", set: Allow(), policy: "adder", permits: false, empty: true},
		{name: "explicit member", set: Allow("adder", "search"), policy: "adder", permits: true},
		{name: "explicit non-member", set: Allow("search"), policy: "adder", permits: false},
		{name: "unrestricted", set: Unrestricted(), policy: "anything", permits: true, unrestricted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permits, tt.set.Permits(tt.policy))
			assert.Equal(t, tt.empty, tt.set.IsEmpty())
			assert.Equal(t, tt.unrestricted, tt.set.IsUnrestricted())
		})
	}
}

func TestActionSet_JSON(t *testing.T) {
	data, err := json.Marshal(Allow("b", "a"))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))

	data, err = json.Marshal(Unrestricted())
	require.NoError(t, err)
	assert.JSONEq(t, `["*"]`, string(data))

	var set ActionSet
	require.NoError(t, json.Unmarshal([]byte(`["*"]`), &set))
	assert.True(t, set.IsUnrestricted())

	require.NoError(t, json.Unmarshal([]byte(`["x"]`), &set))
	assert.Equal(t, []string{"x"}, set.Names())
}

func TestActionSet_Union(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Allow("a").Union(Allow("b")).Names())
	assert.True(t, Allow("a").Union(Unrestricted()).IsUnrestricted())
}

func TestStep_CallTarget(t *testing.T) {
	policy, payload, err := NewActionCall("o", "adder", map[string]any{"a": 1}).CallTarget()
	require.NoError(t, err)
	assert.Equal(t, "adder", policy)
	assert.Equal(t, 1, payload["a"])

	_, _, err = NewMessage("o", "x").CallTarget()
	assert.ErrorIs(t, err, ErrInvalidActionCall)

	_, _, err = Step{Type: StepActionCall, Payload: map[string]any{"policy": "p", "payload": "nope"}}.CallTarget()
	assert.ErrorIs(t, err, ErrInvalidActionCall)

	policy, payload, err = Step{Type: StepActionCall, Payload: map[string]any{"policy": "p"}}.CallTarget()
	require.NoError(t, err)
	assert.Equal(t, "p", policy)
	assert.NotNil(t, payload)
}
