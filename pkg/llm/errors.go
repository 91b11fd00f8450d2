package llm

import (
	"fmt"
	"net/http"

	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
)

// ProviderError is a typed failure from the LLM HTTP API. It carries the
// reliability category derived from the status code so the retry operator
// does not have to sniff message text.
type ProviderError struct {
	StatusCode int
	Message    string
	Category   reliability.ErrorCategory
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider error (status %d, %s): %s", e.StatusCode, e.Category, e.Message)
}

// ErrorCategory implements reliability.Categorized.
func (e *ProviderError) ErrorCategory() reliability.ErrorCategory {
	return e.Category
}

// newProviderError classifies an HTTP status into an error category.
func newProviderError(statusCode int, message string) *ProviderError {
	var category reliability.ErrorCategory
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		category = reliability.CategoryAuthentication
	case statusCode == http.StatusTooManyRequests:
		category = reliability.CategoryQuota
	case statusCode == http.StatusNotFound || statusCode == http.StatusBadRequest:
		category = reliability.CategoryInvalidRequest
	case statusCode >= 500:
		category = reliability.CategoryServiceError
	default:
		category = reliability.CategoryUnknown
	}
	return &ProviderError{StatusCode: statusCode, Message: message, Category: category}
}
