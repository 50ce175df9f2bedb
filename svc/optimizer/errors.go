package optimizer

import "errors"

var (
	ErrMissingAPIKey = errors.New("completion API key is required")
	ErrEmptyPrompt   = errors.New("prompt is required")
	ErrUpstream      = errors.New("completion API request failed")
)
