package analysis

import "errors"

var (
	ErrNotFound   = errors.New("job not found")
	ErrNotReady   = errors.New("job not complete")
	ErrValidation = errors.New("validation failed")
)

const (
	ErrorCodeValidation        = "VALIDATION_ERROR"
	ErrorCodeLLMTimeout        = "LLM_TIMEOUT"
	ErrorCodeLLMSchemaMismatch = "LLM_SCHEMA_MISMATCH"
	ErrorCodeSessionSource     = "SESSION_SOURCE_ERROR"
	ErrorCodeCancelled         = "CANCELLED"
	ErrorCodeStorage           = "STORAGE_ERROR"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)

// cancelledMessage is the terminal error message for cooperative
// cancellation; pollers match on the "cancelled" substring.
const cancelledMessage = "analysis cancelled by user"
