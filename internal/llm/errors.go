package llm

import "errors"

// Common errors returned by Caller implementations.
var (
	// ErrTransient is returned for temporary failures (network errors,
	// timeouts, rate limits, provider 5xx) that may resolve on retry.
	ErrTransient = errors.New("transient error calling language model")

	// ErrContentBlocked is returned when the provider refuses the content;
	// never retried.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidResponse is returned when the provider response is empty
	// or malformed; never retried.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrInvalidConfig is returned when the caller configuration is invalid.
	ErrInvalidConfig = errors.New("invalid model caller configuration")
)

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
