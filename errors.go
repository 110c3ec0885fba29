package protocolbanks

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory groups error codes by subsystem.
type ErrorCategory string

const (
	ErrorCategoryAuth   ErrorCategory = "AUTH"
	ErrorCategoryLink   ErrorCategory = "LINK"
	ErrorCategoryX402   ErrorCategory = "X402"
	ErrorCategoryBatch  ErrorCategory = "BATCH"
	ErrorCategoryNet    ErrorCategory = "NET"
	ErrorCategoryRate   ErrorCategory = "RATE"
	ErrorCategoryValid  ErrorCategory = "VALID"
	ErrorCategoryCrypto ErrorCategory = "CRYPTO"
	ErrorCategoryChain  ErrorCategory = "CHAIN"
)

// Error codes follow the pattern PB_{CATEGORY}_{NNN}.
const (
	ErrAuthInvalidAPIKey           = "PB_AUTH_001"
	ErrAuthInvalidSecret           = "PB_AUTH_002"
	ErrAuthTokenExpired            = "PB_AUTH_003"
	ErrAuthTokenInvalid            = "PB_AUTH_004"
	ErrAuthInsufficientPermissions = "PB_AUTH_005"

	ErrLinkInvalidAddress    = "PB_LINK_001"
	ErrLinkInvalidAmount     = "PB_LINK_002"
	ErrLinkInvalidToken      = "PB_LINK_003"
	ErrLinkInvalidChain      = "PB_LINK_004"
	ErrLinkExpired           = "PB_LINK_005"
	ErrLinkTampered          = "PB_LINK_006"
	ErrLinkHomoglyphDetected = "PB_LINK_007"
	ErrLinkInvalidExpiry     = "PB_LINK_008"

	ErrX402UnsupportedChain     = "PB_X402_001"
	ErrX402UnsupportedToken     = "PB_X402_002"
	ErrX402AuthorizationExpired = "PB_X402_003"
	ErrX402InvalidSignature     = "PB_X402_004"
	ErrX402NonceReused          = "PB_X402_005"
	ErrX402InsufficientBalance  = "PB_X402_006"
	ErrX402RelayerError         = "PB_X402_007"
	ErrX402NotCancellable       = "PB_X402_008"

	ErrBatchSizeExceeded      = "PB_BATCH_001"
	ErrBatchValidationFailed  = "PB_BATCH_002"
	ErrBatchNotFound          = "PB_BATCH_003"
	ErrBatchAlreadyProcessing = "PB_BATCH_004"
	ErrBatchCeilingExceeded   = "PB_BATCH_005"
	ErrBatchDuplicateItem     = "PB_BATCH_006"

	ErrNetConnectionFailed = "PB_NET_001"
	ErrNetTimeout          = "PB_NET_002"
	ErrNetDNSFailed        = "PB_NET_003"
	ErrNetTLSError         = "PB_NET_004"
	ErrNetServerError      = "PB_NET_005"

	ErrRateLimitExceeded = "PB_RATE_001"
	ErrRateQueueFull     = "PB_RATE_002"

	ErrValidRequiredField = "PB_VALID_001"
	ErrValidInvalidFormat = "PB_VALID_002"
	ErrValidOutOfRange    = "PB_VALID_003"

	ErrCryptoEncryptionFailed    = "PB_CRYPTO_001"
	ErrCryptoDecryptionFailed    = "PB_CRYPTO_002"
	ErrCryptoSignatureFailed     = "PB_CRYPTO_003"
	ErrCryptoKeyDerivationFailed = "PB_CRYPTO_004"

	ErrChainUnsupported       = "PB_CHAIN_001"
	ErrChainRPCError          = "PB_CHAIN_002"
	ErrChainTransactionFailed = "PB_CHAIN_003"
)

// SDKError is the error type surfaced by every module. Retryable is
// load-bearing: callers and the transport retry logic both branch on it.
type SDKError struct {
	Code       string        `json:"code"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	Details    interface{}   `json:"details,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"-"`
	RequestID  string        `json:"requestId,omitempty"`
}

func (e *SDKError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// NewSDKError creates an error with the given code, category and message.
func NewSDKError(code string, category ErrorCategory, message string) *SDKError {
	return &SDKError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails attaches structured detail to the error.
func (e *SDKError) WithDetails(details interface{}) *SDKError {
	e.Details = details
	return e
}

// WithRetryable marks the error as retryable or not.
func (e *SDKError) WithRetryable(retryable bool) *SDKError {
	e.Retryable = retryable
	return e
}

// WithRetryAfter records a server-suggested delay before retrying.
func (e *SDKError) WithRetryAfter(d time.Duration) *SDKError {
	e.RetryAfter = d
	e.Retryable = true
	return e
}

// WithRequestID records the request id that produced the error.
func (e *SDKError) WithRequestID(id string) *SDKError {
	e.RequestID = id
	return e
}

// IsRetryable reports whether retrying the operation may succeed.
func (e *SDKError) IsRetryable() bool {
	return e.Retryable
}

// IsRetryable reports whether err (or any error it wraps) is a retryable
// SDKError. Non-SDK errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		return sdkErr.Retryable
	}
	return false
}

// ErrorCode extracts the PB_* code from err, or "" for non-SDK errors.
func ErrorCode(err error) string {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		return sdkErr.Code
	}
	return ""
}

// NewValidationError creates a non-retryable validation error.
func NewValidationError(message string) *SDKError {
	return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid, message)
}

// NewAuthError creates a non-retryable authentication error.
func NewAuthError(message string) *SDKError {
	return NewSDKError(ErrAuthInvalidAPIKey, ErrorCategoryAuth, message)
}

// NewNetworkError creates a retryable network error.
func NewNetworkError(message string) *SDKError {
	return NewSDKError(ErrNetConnectionFailed, ErrorCategoryNet, message).WithRetryable(true)
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(message string) *SDKError {
	return NewSDKError(ErrNetTimeout, ErrorCategoryNet, message).WithRetryable(true)
}

// NewRateLimitError creates a retryable rate-limit error carrying the
// server-suggested delay.
func NewRateLimitError(retryAfter time.Duration) *SDKError {
	return NewSDKError(ErrRateLimitExceeded, ErrorCategoryRate, "Rate limit exceeded").
		WithRetryAfter(retryAfter)
}

// NewQueueFullError creates the retryable error returned when the transport
// admission queue is at capacity. The request was never scheduled.
func NewQueueFullError(queueSize int) *SDKError {
	return NewSDKError(ErrRateQueueFull, ErrorCategoryRate,
		fmt.Sprintf("Request queue is full (%d queued)", queueSize)).
		WithRetryable(true)
}

// categoryFromCode maps a PB_* code back to its category. Unknown codes are
// treated as network errors so the envelope decoder stays total.
func categoryFromCode(code string) ErrorCategory {
	if len(code) < 4 || code[:3] != "PB_" {
		return ErrorCategoryNet
	}
	rest := code[3:]
	for i := 0; i < len(rest); i++ {
		if rest[i] != '_' {
			continue
		}
		switch ErrorCategory(rest[:i]) {
		case ErrorCategoryAuth, ErrorCategoryLink, ErrorCategoryX402,
			ErrorCategoryBatch, ErrorCategoryNet, ErrorCategoryRate,
			ErrorCategoryValid, ErrorCategoryCrypto, ErrorCategoryChain:
			return ErrorCategory(rest[:i])
		}
		break
	}
	return ErrorCategoryNet
}
