package openai

import (
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/policymesh/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "be terse",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "add 2 and 3"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
				ID:       "c1",
				Type:     "function",
				Function: model.ToolCallFunction{Name: "adder", Arguments: `{"a":2,"b":3}`},
			}}},
			{Role: model.RoleTool, ToolCallID: "c1", Content: `{"sum":5}`},
			{Role: model.RoleAssistant, Content: "sum is 5"},
		},
	}

	messages := buildMessages(req)
	require.Len(t, messages, 5)

	assert.NotNil(t, messages[0].OfSystem)
	assert.NotNil(t, messages[1].OfUser)

	require.NotNil(t, messages[2].OfAssistant)
	require.Len(t, messages[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", messages[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, "adder", messages[2].OfAssistant.ToolCalls[0].Function.Name)

	require.NotNil(t, messages[3].OfTool)
	assert.Equal(t, "c1", messages[3].OfTool.ToolCallID)

	assert.NotNil(t, messages[4].OfAssistant)
}

func TestBuildParams_Tools(t *testing.T) {
	client := openai.NewClient(option.WithAPIKey("test"))
	m := NewModelFromClient(&client, func(o *Options) { o.Model = "gpt-test" })

	params := m.buildParams(model.Request{Tools: []model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        "adder",
			Description: "Add two numbers",
			Parameters:  map[string]any{"type": "object"},
		},
	}}}, nil)

	assert.Equal(t, "gpt-test", params.Model)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "adder", params.Tools[0].Function.Name)

	info := m.Info()
	assert.Equal(t, "openai", info.Provider)
	assert.Equal(t, "gpt-test", info.Name)
}

func TestAggregated_SortsByIndex(t *testing.T) {
	calls := aggregated(map[int64]*aggCall{
		1: {id: "b", name: "second", args: "{}"},
		0: {id: "a", name: "first", args: "{}"},
	})

	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Function.Name)
	assert.Equal(t, "second", calls[1].Function.Name)
	assert.Nil(t, aggregated(nil))
}
