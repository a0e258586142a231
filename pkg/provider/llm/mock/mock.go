// Package mock is a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/geova/livementor/pkg/provider/llm"
)

// Call is one recorded Complete invocation.
type Call struct {
	Req llm.CompletionRequest
}

// Provider answers every Complete with CompleteResponse and CompleteErr, or
// delegates to CompleteFunc when set. The zero value replies (nil, nil).
// Configure fields before the provider is shared between goroutines.
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFunc runs without the mock's lock held, so it may block on ctx.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.Mutex
	calls []Call
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Calls returns a copy of the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

var _ llm.Provider = (*Provider)(nil)
