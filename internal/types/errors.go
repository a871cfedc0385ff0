package types

import "errors"

// Error kinds recorded as error_type on file processing logs and jobs.
// Each sentinel's message is the persisted error_type string; wrap with
// %w so callers can classify via errors.Is.
var (
	ErrIngest            = errors.New("ingest_error")
	ErrPlanner           = errors.New("planner_error")
	ErrLLM               = errors.New("llm_error")
	ErrJSONParse         = errors.New("json_parse_error")
	ErrValidation        = errors.New("validation_error")
	ErrFallbackExhausted = errors.New("fallback_exhausted")
	ErrModelExecution    = errors.New("model_execution_error")
	ErrActionExecution   = errors.New("action_execution_error")
)
