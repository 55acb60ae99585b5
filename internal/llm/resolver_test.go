package llm

import (
	"context"
	"errors"
	"testing"
)

type namedProvider struct {
	name string
}

func (p namedProvider) SendMessage(_ context.Context, _ *Request) (*Response, error) {
	return &Response{Content: "from " + p.name}, nil
}

func (p namedProvider) Name() string { return p.name }

func TestResolve_BotOverrideWins(t *testing.T) {
	r := NewResolver()
	r.Register("anthropic", namedProvider{name: "anthropic"})
	r.Register("openai", namedProvider{name: "openai"})
	r.SetDefault("anthropic")

	p, err := r.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("provider = %q, want the bot-level override", p.Name())
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := NewResolver()
	r.Register("anthropic", namedProvider{name: "anthropic"})

	for _, botProvider := range []string{"", "unregistered"} {
		p, err := r.Resolve(botProvider)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", botProvider, err)
		}
		if p.Name() != "anthropic" {
			t.Errorf("Resolve(%q) = %q, want default", botProvider, p.Name())
		}
	}
}

func TestResolve_FirstRegisteredIsDefault(t *testing.T) {
	r := NewResolver()
	r.Register("first", namedProvider{name: "first"})
	r.Register("second", namedProvider{name: "second"})

	p, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name() != "first" {
		t.Errorf("default = %q, want first registered", p.Name())
	}
}

func TestResolve_EmptyResolver(t *testing.T) {
	r := NewResolver()
	if _, err := r.Resolve(""); !errors.Is(err, ErrNoProvider) {
		t.Errorf("error = %v, want ErrNoProvider", err)
	}
}
