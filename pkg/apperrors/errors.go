package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrSessionNotFound  = errors.New("onboarding session not found")
	ErrSessionCommitted = errors.New("onboarding session already committed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrNotCommitted     = errors.New("session has no committed restaurant")
)
