package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidInput           = errors.New("invalid input")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrRemoteGenerationFailed = errors.New("generation failed")
	ErrPersistenceFailed      = errors.New("failed to save generation")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrPaymentIncomplete      = errors.New("payment not completed")
	ErrUnknownPlan            = errors.New("unknown plan")
	ErrMissingMetadata        = errors.New("missing checkout metadata")
	ErrInvalidSignature       = errors.New("invalid webhook signature")
	// ErrRefundFailed accompanies a post-deduction failure whose refund did
	// not go through; the credits stay spent until an operator fixes them.
	ErrRefundFailed = errors.New("refund failed")
)

// InsufficientCreditsError carries the quoted cost so clients can show it.
type InsufficientCreditsError struct {
	Kind      string
	Model     string
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Not enough credits. %s %s generation costs %d credits, you have %d.", e.Model, e.Kind, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// RateLimitError reports how long the caller should wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
