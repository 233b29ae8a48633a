// Package tool implements leaf policies that wrap plain Go functions with
// schema validated arguments, consistent error handling and metadata for LLM
// guidance.
package tool

import (
	"fmt"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/internal/util"
)

// Error codes carried by recoverable tool error results.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// Tool defines a capability that can be registered as a policy.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]any

	// Call executes the tool with already validated arguments.
	Call(ctx *core.InvocationContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution. Returned from
// a tool function it becomes a recoverable error result carrying Code.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Step converts the error into a recoverable action_result step.
func (e *ToolError) Step() core.Step {
	code := e.Code
	if code == "" {
		code = CodeExecution
	}
	return core.NewToolErrorResult(e.Tool, code, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Error builds a recoverable tool error result step.
func Error(tool, code, message string) core.Step {
	return core.NewToolErrorResult(tool, code, message)
}

// Schema derives a JSON schema from the exported fields of a struct.
func Schema(structType any) map[string]any {
	return util.CreateSchema(structType)
}

// Metadata returns the registry metadata describing t.
func Metadata(t Tool) core.Metadata {
	return core.Metadata{
		Name:        t.Name(),
		Description: t.Description(),
		Kind:        core.KindTool,
		InputSchema: t.Parameters(),
	}
}

// Register registers each tool as a policy under its name.
func Register(reg *core.Registry, tools ...Tool) error {
	for _, t := range tools {
		if err := reg.Register(t.Name(), AsPolicy(t), Metadata(t)); err != nil {
			return err
		}
	}
	return nil
}
