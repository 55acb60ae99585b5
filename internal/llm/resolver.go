package llm

import (
	"errors"
	"sync"
)

// ErrNoProvider is returned when neither a bot-level nor a system-level
// provider is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

// Resolver picks the provider for a bot: the bot-specific provider when one
// is registered under the bot's configured name, otherwise the system
// default. Thread-safe for concurrent reads; registration happens at startup.
type Resolver struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	defaultKey string
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{providers: make(map[string]Provider)}
}

// Register adds a named provider. The first registered provider becomes the
// system default unless SetDefault overrides it.
func (r *Resolver) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	if r.defaultKey == "" {
		r.defaultKey = name
	}
}

// SetDefault marks the named provider as the system-level default.
func (r *Resolver) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultKey = name
}

// Resolve returns the provider for the given bot-level override name.
// An empty or unknown name falls back to the system default.
func (r *Resolver) Resolve(botProvider string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if botProvider != "" {
		if p, ok := r.providers[botProvider]; ok {
			return p, nil
		}
	}
	if p, ok := r.providers[r.defaultKey]; ok {
		return p, nil
	}
	return nil, ErrNoProvider
}
