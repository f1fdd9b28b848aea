package extractor

import "fmt"

// Category classifies an extraction failure. The orchestrator uses the
// category to decide whether to escalate to the next tier, retry, or fail
// the machine outright.
type Category string

const (
	// CategoryFetchTransient covers timeouts, 5xx, 429 and Cloudflare 52x
	// responses. Retried with backoff before the run gives up.
	CategoryFetchTransient Category = "FETCH_TRANSIENT"
	// CategoryFetchPermanent covers 4xx responses other than 429. No retry.
	CategoryFetchPermanent Category = "FETCH_PERMANENT"
	// CategoryParseNoPrice means the tier ran but found no parseable price.
	CategoryParseNoPrice Category = "PARSE_NO_PRICE"
	// CategoryValidationOutOfRange means every candidate fell outside the
	// site's sanity bounds.
	CategoryValidationOutOfRange Category = "VALIDATION_OUT_OF_RANGE"
	// CategoryDynamicNavigationFailed means the browser could not load or
	// interact with the page.
	CategoryDynamicNavigationFailed Category = "DYNAMIC_NAVIGATION_FAILED"
	// CategoryDynamicVariantNotFound means the variant-selection steps did
	// not produce the expected page state.
	CategoryDynamicVariantNotFound Category = "DYNAMIC_VARIANT_NOT_FOUND"
	// CategoryValidationChangeExceeded is informational: the price passed
	// but moved more than the approval threshold. Surfaced as
	// requires_approval on the history row, never as a tier failure.
	CategoryValidationChangeExceeded Category = "VALIDATION_CHANGE_EXCEEDED"
	// CategoryLLMParseFailed means the model response was unusable.
	CategoryLLMParseFailed Category = "LLM_PARSE_FAILED"
	// CategoryLLMOutOfBudget means the trimmed payload or the call itself
	// exceeded the configured budget. Terminal.
	CategoryLLMOutOfBudget Category = "LLM_OUT_OF_BUDGET"
	// CategoryCancelled means the context expired or was cancelled.
	CategoryCancelled Category = "CANCELLED"
)

// Error is an extraction failure tagged with its taxonomy category.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a categorized extraction error.
func NewError(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// WrapError categorizes an underlying error.
func WrapError(cat Category, err error, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...), Err: err}
}

// Escalatable reports whether a failure in one tier should fall through to
// the next tier rather than ending the run. Permanent fetch failures and
// cancellation stop the fold.
func (e *Error) Escalatable() bool {
	switch e.Category {
	case CategoryFetchPermanent, CategoryCancelled, CategoryLLMOutOfBudget:
		return false
	default:
		return true
	}
}
