package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrItemNotFound returns an error for when a pantry item is not found.
func ErrItemNotFound(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("item not found: %s", name),
		Suggestion: "Check the name or use 'pantryat item list' to see all items",
	}
}

// ErrDuplicateItem returns an error for adding an item that already exists.
func ErrDuplicateItem(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("item already exists: %s", name),
		Suggestion: fmt.Sprintf("Change its quantity with 'pantryat item update %q -q <quantity>', or pass --merge or --keep-both", name),
	}
}

// ErrCategoryNotFound returns an error for when a category is not found.
func ErrCategoryNotFound(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("category not found: %s", name),
		Suggestion: fmt.Sprintf("Create it with 'pantryat category add %q'", name),
	}
}

// ErrRecipeNotFound returns an error for when a recipe is not found.
func ErrRecipeNotFound(id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("recipe not found: %s", id),
		Suggestion: "Search first with 'pantryat recipe search <query>' so the recipe is cached",
	}
}

// ErrSyncNotConfigured returns an error when no sync endpoint is set.
func ErrSyncNotConfigured() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("sync endpoint is not configured"),
		Suggestion: "Set sync.endpoint in your config file",
	}
}

// ErrOffline returns an error when an operation needs the network.
func ErrOffline() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("offline"),
		Suggestion: "Pending changes stay queued and are sent when the connection returns",
	}
}

// ErrEndpointOffline returns an error when a remote is unreachable with smart suggestions.
func ErrEndpointOffline(name, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%s is unreachable: %s", name, reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}
	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and accessible"
	}
	if strings.Contains(lowerReason, "timeout") {
		return "The server may be slow or unreachable. Try again later"
	}
	return "Check your internet connection and try again"
}

// ErrInvalidQuantity returns an error for a negative or malformed quantity.
func ErrInvalidQuantity(field string, value float64) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid %s: %g", field, value),
		Suggestion: fmt.Sprintf("The %s must be zero or greater", field),
	}
}

// ErrInvalidDate returns an error for an invalid date string.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date: %s", dateStr),
		Suggestion: "Use date format YYYY-MM-DD (e.g., 2026-01-15) or a relative date like +7d",
	}
}

// ErrCredentialsNotFound returns an error when the sync token is missing.
func ErrCredentialsNotFound(user string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for user %s", user),
		Suggestion: "Run 'pantryat credentials set <user>' or set PANTRYAT_SYNC_TOKEN",
	}
}
