package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Chain] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Chain holds backends of one kind in preference order, each behind its own
// [CircuitBreaker].
type Chain[T any] struct {
	links   []link[T]
	breaker CircuitBreakerConfig
}

type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// NewChain returns a chain whose first backend is primary. cfg is the
// template for every backend's breaker; its Name is replaced per backend.
func NewChain[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *Chain[T] {
	c := &Chain[T]{breaker: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback backend. It must not be called concurrently with
// [Do].
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.breaker
	cfg.Name = name
	c.links = append(c.links, link[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Names returns the backend names in preference order.
func (c *Chain[T]) Names() []string {
	out := make([]string, len(c.links))
	for i, l := range c.links {
		out[i] = l.name
	}
	return out
}

// Do calls fn on each backend in order until one succeeds. It stops early
// when ctx is done. The returned error wraps [ErrAllFailed] and every
// backend's error.
func Do[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, l := range c.links {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := l.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, l.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider with open circuit", "provider", l.name)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", l.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
