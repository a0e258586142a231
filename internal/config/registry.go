package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/geova/livementor/pkg/provider/llm"
	"github.com/geova/livementor/pkg/provider/stt"
	"github.com/geova/livementor/pkg/provider/tts"
)

// ErrProviderNotRegistered means no factory is registered under the name a
// [ProviderEntry] asks for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a backend from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name → factory table.
type factories[T any] struct {
	kind   string
	byName map[string]Factory[T]
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	var zero T
	factory, ok := f.byName[entry.Name]
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s/%s: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	out := make([]string, 0, len(f.byName))
	for name := range f.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry resolves provider names from the config file to constructors for
// the three backend kinds. Registering a name again replaces it. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm", byName: map[string]Factory[llm.Provider]{}},
		stt: factories[stt.Provider]{kind: "stt", byName: map[string]Factory[stt.Provider]{}},
		tts: factories[tts.Provider]{kind: "tts", byName: map[string]Factory[tts.Provider]{}},
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byName[name] = f
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = f
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = f
}

// CreateLLM builds the language model named by entry.Name. Unknown names
// yield [ErrProviderNotRegistered]; factory errors are wrapped.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Names returns the sorted registered names per kind ("llm", "stt", "tts").
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind: r.llm.names(),
		r.stt.kind: r.stt.names(),
		r.tts.kind: r.tts.names(),
	}
}
