package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/internal/util"
	"github.com/hupe1980/policymesh/logging"
	"github.com/hupe1980/policymesh/model"
)

// Payload keys read and written by the policy.
const (
	PayloadKeyPrompt = "prompt"
	PayloadKeyRole   = "role"
	PayloadKeyDigest = "request_digest"
)

// DefaultName is the actor name used when Options.Name is empty.
const DefaultName = "llm"

// Options configures a Policy.
type Options struct {
	// Name is the actor recorded on emitted steps. Text steps authored by
	// this actor are replayed to the model as assistant messages.
	Name string
	// Instructions is a text/template rendered over the action payload.
	Instructions string
	// Stream requests streaming generation from the model.
	Stream bool
	// Description is reported through Metadata.
	Description string
}

// Policy is a core.Policy that asks a model for the next steps.
type Policy struct {
	model model.Model
	opts  Options
}

// New creates a model-backed policy.
func New(m model.Model, optFns ...func(o *Options)) *Policy {
	opts := Options{
		Name:         DefaultName,
		Instructions: "You are a helpful assistant. Use the available tools when they help to answer the request.",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Name == "" {
		opts.Name = DefaultName
	}

	return &Policy{model: m, opts: opts}
}

// Name returns the actor name of the policy.
func (p *Policy) Name() string { return p.opts.Name }

// Metadata describes the policy for registration.
func (p *Policy) Metadata() core.Metadata {
	return core.Metadata{
		Name:        p.opts.Name,
		Description: p.opts.Description,
		Kind:        core.KindInternal,
	}
}

// Run implements core.Policy.
func (p *Policy) Run(ctx *core.InvocationContext, action core.Action) ([]core.Step, error) {
	req, err := p.buildRequest(ctx, action)
	if err != nil {
		return nil, err
	}

	digest, err := requestDigest(req)
	if err != nil {
		return nil, err
	}

	if steps := recorded(ctx.History(), p.opts.Name, digest); len(steps) > 0 {
		ctx.LogDebug("llm.replayed", "actor", p.opts.Name, "steps", len(steps))
		return steps, nil
	}

	info := p.model.Info()
	start := time.Now()

	resp, err := model.Collect(ctx.Context(), p.model, req)
	p.logModelCall(ctx, info.Name, resp.Usage, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", info.Name, err)
	}

	return p.toSteps(ctx, action, resp, digest), nil
}

func (p *Policy) buildRequest(ctx *core.InvocationContext, action core.Action) (model.Request, error) {
	instructions, err := util.RenderTemplate(p.opts.Instructions, action.Payload)
	if err != nil {
		return model.Request{}, fmt.Errorf("render instructions: %w", err)
	}

	var messages []model.Message
	if prompt, ok := action.Payload[PayloadKeyPrompt].(string); ok && prompt != "" {
		messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})
	}

	ledgerMessages, err := p.messages(ctx.Ledger())
	if err != nil {
		return model.Request{}, err
	}

	return model.Request{
		Instructions: instructions,
		Messages:     append(messages, ledgerMessages...),
		Tools:        tools(ctx.Registry().Describe(action.Actions)),
		Stream:       p.opts.Stream,
	}, nil
}

// messages renders a ledger as a conversation. Consecutive action calls
// share one assistant message; all results of a call form one tool message.
func (p *Policy) messages(l core.Ledger) ([]model.Message, error) {
	var (
		out      []model.Message
		answered = map[string]bool{}
	)

	for _, s := range l.All() {
		switch s.Type {
		case core.StepText:
			if content := s.Text(); content != "" {
				out = append(out, model.Message{Role: p.role(s), Content: content})
			}
		case core.StepActionCall:
			policy, payload, err := s.CallTarget()
			if err != nil {
				return nil, err
			}

			args, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode arguments of %s: %w", s.CallID, err)
			}

			call := model.ToolCall{
				ID:       s.CallID,
				Type:     "function",
				Function: model.ToolCallFunction{Name: policy, Arguments: string(args)},
			}

			if n := len(out); n > 0 && out[n-1].Role == model.RoleAssistant {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				continue
			}
			out = append(out, model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{call}})
		case core.StepActionResult:
			if s.CallID == "" || answered[s.CallID] {
				continue
			}
			answered[s.CallID] = true

			msg, err := toolMessage(s.CallID, l.Results(s.CallID))
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
	}

	return out, nil
}

func (p *Policy) role(s core.Step) string {
	if role, ok := s.Payload[PayloadKeyRole].(string); ok && role != "" {
		return role
	}
	if s.Actor == p.opts.Name {
		return model.RoleAssistant
	}
	return model.RoleUser
}

func toolMessage(callID string, results []core.Step) (model.Message, error) {
	var (
		content any
		isError bool
	)

	if len(results) == 1 {
		content = results[0].Payload
		isError = results[0].IsToolError()
	} else {
		payloads := make([]map[string]any, 0, len(results))
		for _, r := range results {
			payloads = append(payloads, r.Payload)
			isError = isError || r.IsToolError()
		}
		content = payloads
	}

	data, err := json.Marshal(content)
	if err != nil {
		return model.Message{}, fmt.Errorf("encode result of %s: %w", callID, err)
	}

	return model.Message{Role: model.RoleTool, ToolCallID: callID, Content: string(data), IsError: isError}, nil
}

func tools(described []core.Metadata) []model.ToolDefinition {
	if len(described) == 0 {
		return nil
	}

	defs := make([]model.ToolDefinition, 0, len(described))
	for _, md := range described {
		params := md.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        md.Name,
				Description: md.Description,
				Parameters:  params,
			},
		})
	}

	return defs
}

// toSteps maps a final response to steps. Tool calls outside the permitted
// actions are dropped and reported back as a user message.
func (p *Policy) toSteps(ctx *core.InvocationContext, action core.Action, resp model.Response, digest string) []core.Step {
	var steps []core.Step

	if resp.Message.Content != "" || len(resp.Message.ToolCalls) == 0 {
		steps = append(steps, core.NewText(p.opts.Name, map[string]any{
			core.PayloadKeyContent: resp.Message.Content,
			PayloadKeyRole:         model.RoleAssistant,
			PayloadKeyDigest:       digest,
		}))
	}

	for _, tc := range resp.Message.ToolCalls {
		if !action.Actions.Permits(tc.Function.Name) {
			ctx.LogWarn("llm.tool.denied", "actor", p.opts.Name, "tool", tc.Function.Name)
			steps = append(steps, core.NewText(p.opts.Name, map[string]any{
				core.PayloadKeyContent: fmt.Sprintf("tool %q is not available", tc.Function.Name),
				PayloadKeyRole:         model.RoleUser,
				PayloadKeyDigest:       digest,
			}))
			continue
		}

		call := core.NewActionCall(p.opts.Name, tc.Function.Name, arguments(tc.Function.Arguments))
		call.Payload[PayloadKeyDigest] = digest
		steps = append(steps, call)
	}

	return steps
}

// arguments decodes tool call arguments. Malformed JSON is passed through
// under "arguments" so the callee can reject it as a validation error.
func arguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{"arguments": raw}
	}

	return args
}

// recorded returns the steps a previous execution emitted for digest.
func recorded(history core.Ledger, actor, digest string) []core.Step {
	var steps []core.Step
	for _, s := range history.All() {
		if s.Actor != actor || s.Type == core.StepActionResult {
			continue
		}
		if d, _ := s.Payload[PayloadKeyDigest].(string); d == digest {
			steps = append(steps, s)
		}
	}
	return steps
}

func requestDigest(req model.Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode model request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

func (p *Policy) logModelCall(ctx *core.InvocationContext, name string, usage *model.TokenUsage, dur time.Duration, err error) {
	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
	}

	if sl, ok := ctx.Logger().(*logging.StructuredLogger); ok {
		sl.LogModelCall(name, tokens, dur, err)
		return
	}

	ctx.LogDebug("llm.generate", "model", name, "tokens", tokens, "duration_ms", dur.Milliseconds(), "error", err)
}
