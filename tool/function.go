package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/internal/util"
)

// ResultKey holds non-object tool results in the action_result payload.
const ResultKey = "result"

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification (parameters)
//   - Validates caller or model supplied arguments against that schema before execution
//   - Invokes the wrapped function with the *core.InvocationContext of the call
//   - Normalizes error handling so callers receive recoverable error results:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is safe for
//	concurrent use by multiple goroutines.
//
// Returned result:
//
//	A map[string]any result becomes the action_result payload as is. Any other
//	JSON-serializable value is stored under the "result" key.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to models
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// User supplied implementation
	fn func(ctx *core.InvocationContext, args map[string]any) (any, error)
}

var (
	_ Tool        = (*FunctionTool)(nil)
	_ core.Policy = (*FunctionTool)(nil)
)

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(_ *core.InvocationContext, args map[string]any) (any, error) {
//	    return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx *core.InvocationContext, args map[string]any) (any, error),
) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using reflection.
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct("calculate_sum", "Calculate the sum of two numbers", SumArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx *core.InvocationContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call invokes the underlying function. Arguments are not validated here; Run
// validates before calling.
func (t *FunctionTool) Call(ctx *core.InvocationContext, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// Run implements core.Policy.
func (t *FunctionTool) Run(ctx *core.InvocationContext, action core.Action) ([]core.Step, error) {
	return run(t, ctx, action)
}

// AsPolicy adapts a Tool to a core.Policy.
func AsPolicy(t Tool) core.Policy {
	if p, ok := t.(core.Policy); ok {
		return p
	}
	return core.PolicyFunc(func(ctx *core.InvocationContext, action core.Action) ([]core.Step, error) {
		return run(t, ctx, action)
	})
}

// run validates the payload, calls t and converts the outcome into steps.
//
// Error Semantics:
//
//	*ToolError (returned directly)  -> error result with its code
//	validation failure              -> error result, code VALIDATION_ERROR
//	other error                     -> error result, code EXECUTION_ERROR
//
// Recoverable errors are data; run only returns an error when the result
// cannot be stored.
func run(t Tool, ctx *core.InvocationContext, action core.Action) ([]core.Step, error) {
	start := time.Now()
	name := t.Name()

	ctx.LogDebug("tool.call.start", "tool", name, "call_id", action.CallID)

	if err := util.ValidateParameters(action.Payload, t.Parameters()); err != nil {
		ctx.LogWarn("tool.call.validation_failed", "tool", name, "error", err.Error())

		return []core.Step{Error(name, CodeValidation, fmt.Sprintf("parameter validation failed: %v", err))}, nil
	}

	result, err := t.Call(ctx, action.Payload)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) { // Already a ToolError -> just log and forward
			ctx.LogError("tool.call.error", "tool", name, "code", toolErr.Code, "error", toolErr.Message)

			// The error belongs to the tool; fill in the name on a copy.
			forwarded := *toolErr
			if forwarded.Tool == "" {
				forwarded.Tool = name
			}
			return []core.Step{forwarded.Step()}, nil
		}

		// Suspension and cancellation are not outcomes of the tool; recording
		// them would be replayed forever.
		if core.IsSuspended(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		ctx.LogError("tool.call.error", "tool", name, "error", err.Error())

		return []core.Step{Error(name, CodeExecution, err.Error())}, nil
	}

	ctx.LogInfo("tool.call.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())

	payload, ok := result.(map[string]any)
	if !ok {
		payload = map[string]any{ResultKey: result}
	}

	return []core.Step{core.NewActionResult(name, payload)}, nil
}
