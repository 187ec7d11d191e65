// Package ratelimit implements per-identity sliding-window request limits.
//
// Each (class, identity) pair keeps a log of admitted request times. A window
// admits exactly Limit requests; the next one inside the window is denied
// immediately. Nothing is queued.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class separates independent limits for the same identity.
type Class string

const (
	ClassImage   Class = "image"
	ClassVideo   Class = "video"
	ClassPayment Class = "payment"
)

// Rule is the window configuration of one class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules maps each class to its rule.
type Rules map[Class]Rule

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or denies a request for an identity.
type Limiter interface {
	Allow(ctx context.Context, class Class, identity string) (Decision, error)
}

// ErrUnknownClass is returned when no rule is configured for a class.
var ErrUnknownClass = errors.New("ratelimit: unknown class")

// Validate rejects non-positive limits or windows.
func (r Rules) Validate() error {
	for class, rule := range r {
		if rule.Limit <= 0 {
			return fmt.Errorf("ratelimit: class %q: limit must be positive", class)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("ratelimit: class %q: window must be positive", class)
		}
	}
	return nil
}

func (r Rules) lookup(class Class) (Rule, error) {
	rule, ok := r[class]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return rule, nil
}

// Option configures a limiter backend.
type Option func(*options)

type options struct {
	keyPrefix string
	now       func() time.Time
}

// WithKeyPrefix sets the Redis key prefix (default "genstudio:ratelimit:").
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		keyPrefix: "genstudio:ratelimit:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
