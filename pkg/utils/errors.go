package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrFetch           = errors.New("fetch error")                      // Source could not be retrieved
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError  = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrInvalidURL      = errors.New("invalid or unresolvable URL")

	ErrRobotsDisallowed   = errors.New("disallowed by robots.txt")
	ErrScopeViolation     = errors.New("URL out of source scope")
	ErrPrivateNetwork     = errors.New("URL resolves to a private network address")
	ErrParsing            = errors.New("parsing error") // Wraps specific parsing error (HTML, URL, JSON)
	ErrFilesystem         = errors.New("filesystem error")
	ErrStorage            = errors.New("storage error") // Wraps store driver errors
	ErrSemaphoreTimeout   = errors.New("timeout acquiring semaphore")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrConfigValidation   = errors.New("configuration validation error")

	ErrExtractionDegraded     = errors.New("extraction degraded")
	ErrModelUnavailable       = errors.New("extraction model unavailable")
	ErrReconciliationConflict = errors.New("multiple records share an identity key")
	ErrLockNotAcquired        = errors.New("identity key lock not acquired")
	ErrCycleTimeout           = errors.New("cycle deadline exceeded")
	ErrUnknownSource          = errors.New("unknown or disabled source")
)

// WrapErrorf prefixes err with a formatted message, preserving errors.Is matching.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging and scan reports.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrCycleTimeout):
		return "Cycle_Timeout"
	case errors.Is(err, ErrRetryFailed):
		var netErr net.Error
		switch {
		case errors.Is(err, ErrServerHTTPError):
			return "RetryFailed_HTTPServer"
		case errors.Is(err, ErrClientHTTPError):
			return "RetryFailed_HTTPClient"
		case errors.As(err, &netErr) && netErr.Timeout():
			return "RetryFailed_NetworkTimeout"
		}
		lowerErrMsg := strings.ToLower(err.Error())
		if strings.Contains(lowerErrMsg, "timeout") || strings.Contains(lowerErrMsg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(lowerErrMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 429") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrInvalidURL):
		return "Fetch_InvalidURL"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrPrivateNetwork):
		return "Policy_PrivateNetwork"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrExtractionDegraded):
		return "Content_Degraded"
	case errors.Is(err, ErrModelUnavailable):
		return "Content_ModelUnavailable"
	case errors.Is(err, ErrReconciliationConflict):
		return "Reconcile_Conflict"
	case errors.Is(err, ErrLockNotAcquired):
		return "Reconcile_LockNotAcquired"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrStorage):
		if errors.Is(err, context.DeadlineExceeded) {
			return "Storage_Timeout"
		}
		return "Storage_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrUnknownSource):
		return "Config_UnknownSource"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
