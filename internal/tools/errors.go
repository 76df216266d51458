package tools

import (
	"fmt"
	"strings"
)

// Error codes follow the pattern {category}:{specific_code} so that ledger
// consumers and analytics can bucket failures without parsing messages.
const (
	// Gate and policy denials.
	CodeDenyUnknownTool     = "deny:unknown_tool"
	CodeDenyPolicyForbidden = "deny:policy_forbidden"
	CodeDenyPathEscape      = "deny:path_escape"
	CodeDenyDomainBlocked   = "deny:domain_blocked"
	CodeDenyPayloadSize     = "deny:payload_size"

	// Argument validation failures.
	CodeSchemaMissingRequired = "schema:missing_required"
	CodeSchemaWrongType       = "schema:wrong_type"
	CodeSchemaUnexpectedArg   = "schema:unexpected_arg"
	CodeSchemaInvalidFormat   = "schema:invalid_format"

	// Resource limits.
	CodeBudgetCallsExceeded   = "budget:calls_exceeded"
	CodeBudgetBytesExceeded   = "budget:bytes_exceeded"
	CodeBudgetResultsExceeded = "budget:results_exceeded"
	CodeBudgetTimeout         = "budget:timeout"

	// Permission failures.
	CodePermGrantRequired = "perm:grant_required"
	CodePermScopeDenied   = "perm:scope_denied"

	// Capability execution errors.
	CodeToolTimeout         = "tool:timeout"
	CodeToolNotFound        = "tool:not_found"
	CodeToolBadArgs         = "tool:bad_args"
	CodeToolExternalFailure = "tool:external_failure"
	CodeToolInternalError   = "tool:internal_error"
	CodeToolCommandBlocked  = "tool:command_blocked"

	// Reasoner errors.
	CodeLLMParseError     = "llm:parse_error"
	CodeLLMProviderError  = "llm:provider_error"
	CodeLLMRateLimit      = "llm:rate_limit"
	CodeLLMContextTooLong = "llm:context_too_long"
	CodeLLMEmptyResponse  = "llm:empty_response"
)

// StructuredError is a machine-readable failure record.
type StructuredError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Errorf builds a structured error with a formatted message.
func Errorf(code, format string, args ...any) *StructuredError {
	return &StructuredError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail key and returns the error for chaining.
func (e *StructuredError) WithDetail(key string, value any) *StructuredError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// Category is the prefix before the colon, or "unknown".
func (e *StructuredError) Category() string {
	if i := strings.IndexByte(e.Code, ':'); i > 0 {
		return e.Code[:i]
	}
	return "unknown"
}

func (e *StructuredError) Error() string {
	return e.Code + ": " + e.Message
}
