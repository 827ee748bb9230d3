package command

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-acommand/flow"
)

const (
	ErrCodeScopeBinding     = "COMMAND_SCOPE_BINDING"
	ErrCodeExecution        = "COMMAND_EXECUTION_FAILED"
	ErrCodeResultProcessing = "COMMAND_RESULT_PROCESSING_FAILED"
	ErrCodeInterrupted      = "COMMAND_INTERRUPTED"
)

const (
	TitleScopeBinding     = "A-Command Scope Binding Error"
	TitleExecution        = "A-Command Execution Error"
	TitleResultProcessing = "A-Command Result Processing Error"
	TitleInterrupted      = "A-Command Interrupted Error"
)

var (
	ErrScopeBinding = &flow.Error{Title: TitleScopeBinding, TextCode: ErrCodeScopeBinding, Category: apperrors.CategoryConflict}
	ErrExecution    = &flow.Error{Title: TitleExecution, TextCode: ErrCodeExecution, Category: apperrors.CategoryCommand}
	// ErrResultProcessing is raised when completing a command with its result fails.
	ErrResultProcessing = &flow.Error{Title: TitleResultProcessing, TextCode: ErrCodeResultProcessing, Category: apperrors.CategoryCommand}
	ErrInterrupted      = &flow.Error{Title: TitleInterrupted, TextCode: ErrCodeInterrupted, Category: apperrors.CategoryConflict}
)

func init() {
	flow.RegisterTitle(TitleScopeBinding, ErrCodeScopeBinding)
	flow.RegisterTitle(TitleExecution, ErrCodeExecution)
	flow.RegisterTitle(TitleResultProcessing, ErrCodeResultProcessing)
	flow.RegisterTitle(TitleInterrupted, ErrCodeInterrupted)
}

// NewScopeBindingError reports an execution scope detached from the scope
// the command was registered into.
func NewScopeBindingError(code, executionScope, contextScope string) *flow.Error {
	return flow.NewError(
		ErrScopeBinding,
		fmt.Sprintf("command %s: execution scope %s does not inherit from context scope %s", code, executionScope, contextScope),
		nil,
	).WithMetadata(map[string]any{
		"code":            code,
		"execution_scope": executionScope,
		"context_scope":   contextScope,
	})
}

// NewExecutionError wraps a failure raised by command hooks.
func NewExecutionError(code string, cause error) *flow.Error {
	return flow.NewError(
		ErrExecution,
		fmt.Sprintf("command %s failed: %s", code, describe(cause)),
		cause,
	).WithMetadata(map[string]any{"code": code})
}

// NewResultProcessingError wraps a failure raised while completing a command.
func NewResultProcessingError(code string, cause error) *flow.Error {
	return flow.NewError(
		ErrResultProcessing,
		fmt.Sprintf("command %s result processing failed: %s", code, describe(cause)),
		cause,
	).WithMetadata(map[string]any{"code": code})
}

// NewInterruptedError reports a lifecycle call rejected because the command
// is busy or already processed.
func NewInterruptedError(code string, status Status, reason string) *flow.Error {
	return flow.NewError(
		ErrInterrupted,
		fmt.Sprintf("command %s (%s): %s", code, status, reason),
		nil,
	).WithMetadata(map[string]any{"code": code, "status": string(status)})
}

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
