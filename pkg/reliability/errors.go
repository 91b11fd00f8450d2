package reliability

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// ErrorCategory buckets provider failures by how the caller should react.
type ErrorCategory string

const (
	// CategoryTransient — network hiccup, timeout: retry with backoff.
	CategoryTransient ErrorCategory = "transient"
	// CategoryAuthentication — bad credentials: never retry, alert loudly.
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryQuota — rate limited: retry after a generous delay.
	CategoryQuota ErrorCategory = "quota"
	// CategoryInvalidRequest — the request itself is malformed: never retry.
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	// CategoryServiceError — upstream 5xx: retry with backoff.
	CategoryServiceError ErrorCategory = "service_error"
	// CategoryInvalidResponse — unparseable provider payload: never retry.
	CategoryInvalidResponse ErrorCategory = "invalid_response"
	// CategoryUnknown — unclassified: not safe to retry.
	CategoryUnknown ErrorCategory = "unknown"
)

// IsValid checks if the error category is one of the known buckets
func (c ErrorCategory) IsValid() bool {
	switch c {
	case CategoryTransient, CategoryAuthentication, CategoryQuota,
		CategoryInvalidRequest, CategoryServiceError, CategoryInvalidResponse,
		CategoryUnknown:
		return true
	default:
		return false
	}
}

// Severity grades how loudly a failure should be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// quotaRetryFloor is the minimum delay before retrying a rate-limited call.
const quotaRetryFloor = 5000 * time.Millisecond

// Classification is the classifier's verdict for one error.
type Classification struct {
	Category            ErrorCategory
	ShouldRetry         bool
	SuggestedRetryDelay time.Duration
	Severity            Severity
}

// Categorized lets provider errors carry their category explicitly, skipping
// message sniffing. Provider clients implement it on their typed errors.
type Categorized interface {
	error
	ErrorCategory() ErrorCategory
}

// Classify determines the category and retry policy for an error.
// Typed categories win; otherwise the error chain and message are inspected.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityInfo}
	}

	var categorized Categorized
	if errors.As(err, &categorized) {
		return classificationFor(categorized.ErrorCategory())
	}

	// Deadline expiry counts as transient so the retry operator can have
	// another go within the caller's remaining budget.
	if errors.Is(err, context.DeadlineExceeded) {
		return classificationFor(CategoryTransient)
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Category: CategoryUnknown, Severity: SeverityInfo}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classificationFor(CategoryTransient)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return classificationFor(CategoryTransient)
	}

	return classificationFor(categoryFromMessage(err.Error()))
}

// classificationFor maps a category to its retry policy and severity.
func classificationFor(category ErrorCategory) Classification {
	switch category {
	case CategoryAuthentication:
		return Classification{Category: category, Severity: SeverityCritical}
	case CategoryQuota:
		return Classification{
			Category:            category,
			ShouldRetry:         true,
			SuggestedRetryDelay: quotaRetryFloor,
			Severity:            SeverityWarning,
		}
	case CategoryServiceError, CategoryTransient:
		return Classification{Category: category, ShouldRetry: true, Severity: SeverityWarning}
	case CategoryInvalidRequest, CategoryInvalidResponse:
		return Classification{Category: category, Severity: SeverityWarning}
	default:
		return Classification{Category: CategoryUnknown, Severity: SeverityWarning}
	}
}

// categoryFromMessage scans the error text for signal tokens.
// Authentication is checked before the generic 4xx/5xx buckets so that
// "401 unauthorized" never lands in invalid_request.
func categoryFromMessage(msg string) ErrorCategory {
	msg = strings.ToLower(msg)

	authTokens := []string{"401", "403", "unauthorized", "forbidden", "invalid api key"}
	for _, tok := range authTokens {
		if strings.Contains(msg, tok) {
			return CategoryAuthentication
		}
	}

	quotaTokens := []string{"429", "rate limit", "too many requests", "quota"}
	for _, tok := range quotaTokens {
		if strings.Contains(msg, tok) {
			return CategoryQuota
		}
	}

	serviceTokens := []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"}
	for _, tok := range serviceTokens {
		if strings.Contains(msg, tok) {
			return CategoryServiceError
		}
	}

	transientTokens := []string{"timeout", "timed out", "connection", "network", "broken pipe", "no such host", "temporarily"}
	for _, tok := range transientTokens {
		if strings.Contains(msg, tok) {
			return CategoryTransient
		}
	}

	requestTokens := []string{"400", "bad request", "invalid request"}
	for _, tok := range requestTokens {
		if strings.Contains(msg, tok) {
			return CategoryInvalidRequest
		}
	}

	responseTokens := []string{"json", "parse", "decode", "unmarshal", "unexpected end"}
	for _, tok := range responseTokens {
		if strings.Contains(msg, tok) {
			return CategoryInvalidResponse
		}
	}

	return CategoryUnknown
}

// CategorizedError is a plain error with an explicit category attached.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

// NewCategorizedError wraps err with an explicit category.
func NewCategorizedError(category ErrorCategory, err error) *CategorizedError {
	return &CategorizedError{Category: category, Err: err}
}

func (e *CategorizedError) Error() string {
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// ErrorCategory implements Categorized.
func (e *CategorizedError) ErrorCategory() ErrorCategory { return e.Category }
