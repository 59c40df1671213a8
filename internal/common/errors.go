package common

import (
	"errors"
	"fmt"
)

// Business logic errors
var (
	// General errors
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("forbidden")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")

	// Messaging errors
	ErrValidation      = errors.New("validation failed")
	ErrSendFailed      = errors.New("send failed")
	ErrMessageNotFound = errors.New("message not found")

	// Event channel errors
	ErrSubscription         = errors.New("subscription unavailable")
	ErrSubscriptionOverflow = errors.New("subscriber buffer overflow")
	ErrHubStopped           = errors.New("event hub stopped")
)

// ValidationError is returned before any store call when input is rejected
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// SendFailedError wraps a store or transport failure during send
type SendFailedError struct {
	Cause error
}

func (e *SendFailedError) Error() string {
	return "send failed: " + e.Cause.Error()
}

func (e *SendFailedError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrSendFailed) match
func (e *SendFailedError) Is(target error) bool {
	return target == ErrSendFailed
}

// SubscriptionError reports that live updates are unavailable for a topic
type SubscriptionError struct {
	Topic string
	Cause error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %q: %v", e.Topic, e.Cause)
}

func (e *SubscriptionError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrSubscription) match
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}
