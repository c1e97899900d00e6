package api

import "fmt"

// ErrorType represents the category of an error.
type ErrorType string

const (
	ErrorTypeSessionClosed      ErrorType = "session_closed"
	ErrorTypeUnknownTool        ErrorType = "unknown_tool"
	ErrorTypeToolValidation     ErrorType = "tool_validation_error"
	ErrorTypeToolExecution      ErrorType = "tool_execution_error"
	ErrorTypeToolBudgetExceeded ErrorType = "tool_budget_exceeded"
	ErrorTypeModelCall          ErrorType = "model_call_failure"
	ErrorTypeStorage            ErrorType = "storage_failure"
	ErrorTypeInvalidInput       ErrorType = "invalid_input"
	ErrorTypeInternal           ErrorType = "internal_error"
)

// Sentinels for errors.Is. Matching compares the Type only, so any
// *APIError of the same category matches its sentinel.
var (
	ErrSessionClosed      = &APIError{Type: ErrorTypeSessionClosed, Message: "session is closed"}
	ErrUnknownTool        = &APIError{Type: ErrorTypeUnknownTool, Message: "unknown tool"}
	ErrToolValidation     = &APIError{Type: ErrorTypeToolValidation, Message: "invalid tool arguments"}
	ErrToolExecution      = &APIError{Type: ErrorTypeToolExecution, Message: "tool execution failed"}
	ErrToolBudgetExceeded = &APIError{Type: ErrorTypeToolBudgetExceeded, Message: "tool round-trip budget exceeded"}
	ErrModelCall          = &APIError{Type: ErrorTypeModelCall, Message: "model call failed"}
	ErrStorageFailure     = &APIError{Type: ErrorTypeStorage, Message: "storage failure"}
	ErrInvalidInput       = &APIError{Type: ErrorTypeInvalidInput, Message: "invalid input"}
	ErrInternal           = &APIError{Type: ErrorTypeInternal, Message: "internal error"}
)

// APIError represents a structured error with type, code, param, and message.
// It is also the error payload carried by failed tool-output items, so it
// must survive JSON round-trips; the wrapped cause is not serialized.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is reports whether target is an *APIError of the same type.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewSessionClosedError creates an APIError for an operation on a closed session.
func NewSessionClosedError(sessionID string) *APIError {
	return &APIError{
		Type:    ErrorTypeSessionClosed,
		Param:   "session_id",
		Message: fmt.Sprintf("session %q is closed", sessionID),
	}
}

// NewUnknownToolError creates an APIError for a tool call naming no registered tool.
func NewUnknownToolError(name string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnknownTool,
		Param:   "tool_name",
		Message: fmt.Sprintf("no tool named %q is registered", name),
	}
}

// NewToolValidationError creates an APIError for arguments that do not match
// the tool's input schema.
func NewToolValidationError(name, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeToolValidation,
		Param:   "arguments",
		Message: fmt.Sprintf("tool %q: %s", name, message),
	}
}

// NewToolExecutionError creates an APIError for a tool whose logic failed.
func NewToolExecutionError(name string, cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeToolExecution,
		Message: fmt.Sprintf("tool %q failed: %v", name, cause),
		cause:   cause,
	}
}

// NewToolBudgetExceededError creates an APIError reporting that a turn
// spent its tool round-trip budget.
func NewToolBudgetExceededError(limit int) *APIError {
	return &APIError{
		Type:    ErrorTypeToolBudgetExceeded,
		Message: fmt.Sprintf("turn stopped after %d tool round-trips", limit),
	}
}

// NewModelCallError creates an APIError for a failed or timed-out model call.
func NewModelCallError(cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeModelCall,
		Message: fmt.Sprintf("model call failed: %v", cause),
		cause:   cause,
	}
}

// NewStorageError creates an APIError wrapping a storage I/O failure.
func NewStorageError(op string, cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeStorage,
		Code:    op,
		Message: fmt.Sprintf("%s: %v", op, cause),
		cause:   cause,
	}
}

// NewInvalidInputError creates an APIError for caller input that cannot be used.
func NewInvalidInputError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidInput,
		Param:   param,
		Message: message,
	}
}

// NewInternalError creates an APIError for failures that fit no other
// category, such as a recovered panic.
func NewInternalError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInternal,
		Message: message,
	}
}
