// Package errors provides a structured error system for the image gateway with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for gateway operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Admission errors: the quota/size/enabled gate rejected the upload
	// before any network call.
	ErrCodeBackendDisabled ErrorCode = "ADMISSION_BACKEND_DISABLED"
	ErrCodeFileTooLarge    ErrorCode = "ADMISSION_FILE_TOO_LARGE"
	ErrCodeMonthlyBytes    ErrorCode = "ADMISSION_MONTHLY_BYTES_EXCEEDED"
	ErrCodeMonthlyRequests ErrorCode = "ADMISSION_MONTHLY_REQUESTS_EXCEEDED"
	ErrCodeAdmissionDenied ErrorCode = "ADMISSION_DENIED"
	ErrCodeAllBackendsDown ErrorCode = "ADMISSION_ALL_BACKENDS_EXHAUSTED"

	// Provider errors
	ErrCodeUploadFailed        ErrorCode = "PROVIDER_UPLOAD_FAILED"
	ErrCodeDeleteFailed        ErrorCode = "PROVIDER_DELETE_FAILED"
	ErrCodeDeleteUnsupported   ErrorCode = "PROVIDER_DELETE_UNSUPPORTED"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderResponse    ErrorCode = "PROVIDER_BAD_RESPONSE"

	// Metadata store errors
	ErrCodeStoreRead     ErrorCode = "STORE_READ"
	ErrCodeStoreWrite    ErrorCode = "STORE_WRITE"
	ErrCodeImageNotFound ErrorCode = "STORE_IMAGE_NOT_FOUND"
	ErrCodeQuotaNotFound ErrorCode = "STORE_QUOTA_NOT_FOUND"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryAdmission     ErrorCategory = "admission"
	CategoryProvider      ErrorCategory = "provider"
	CategoryStore         ErrorCategory = "store"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// GatewayError represents a structured error with context and metadata.
type GatewayError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Backend   string `json:"backend,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *GatewayError) Is(target error) bool {
	if gwErr, ok := target.(*GatewayError); ok {
		return e.Code == gwErr.Code
	}
	return false
}

// JSON returns the error as a JSON string.
func (e *GatewayError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates a new gateway error with default values.
func New(code ErrorCode, message string) *GatewayError {
	return &GatewayError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf creates a new gateway error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *GatewayError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new gateway error with cause attached.
func Wrap(cause error, code ErrorCode, message string) *GatewayError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "ADMISSION_"):
		return CategoryAdmission
	case strings.HasPrefix(codeStr, "PROVIDER_"):
		return CategoryProvider
	case strings.HasPrefix(codeStr, "STORE_"):
		return CategoryStore
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_") ||
		strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Admission denials are deliberately not retryable: the router treats them
// as routing input, not as transient failures.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionTimeout:   true,
		ErrCodeConnectionFailed:    true,
		ErrCodeNetworkError:        true,
		ErrCodeOperationTimeout:    true,
		ErrCodeUploadFailed:        true,
		ErrCodeProviderUnavailable: true,
		ErrCodeInternalError:       true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:       400,
		ErrCodeConfigValidation:    400,
		ErrCodeValidationFailed:    400,
		ErrCodeImageNotFound:       404,
		ErrCodeQuotaNotFound:       404,
		ErrCodeBackendDisabled:     403,
		ErrCodeFileTooLarge:        413,
		ErrCodeMonthlyBytes:        429,
		ErrCodeMonthlyRequests:     429,
		ErrCodeAdmissionDenied:     429,
		ErrCodeAllBackendsDown:     503,
		ErrCodeProviderUnavailable: 503,
		ErrCodeUploadFailed:        502,
		ErrCodeProviderResponse:    502,
		ErrCodeOperationTimeout:    504,
		ErrCodeConnectionTimeout:   504,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// WithDetail adds detailed information to an error.
func (e *GatewayError) WithDetail(key string, value interface{}) *GatewayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *GatewayError) WithComponent(component string) *GatewayError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *GatewayError) WithOperation(operation string) *GatewayError {
	e.Operation = operation
	return e
}

// WithTenant sets the tenant scope for an error.
func (e *GatewayError) WithTenant(tenantID string) *GatewayError {
	e.TenantID = tenantID
	return e
}

// WithBackend sets the backend scope for an error.
func (e *GatewayError) WithBackend(backend string) *GatewayError {
	e.Backend = backend
	return e
}

// WithCause sets the underlying cause.
func (e *GatewayError) WithCause(cause error) *GatewayError {
	e.Cause = cause
	return e
}

// CodeOf extracts the error code from err, walking the wrap chain. Returns
// ErrCodeUnknownError for plain errors.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if gwErr, ok := err.(*GatewayError); ok {
			return gwErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeUnknownError
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	for err != nil {
		if gwErr, ok := err.(*GatewayError); ok {
			return gwErr.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}
