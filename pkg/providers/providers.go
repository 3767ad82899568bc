package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/boristopalov/toolgym/pkg/core"
)

type ProviderParams struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *ProviderParams) {
		p.HTTPClient = c
	}
}

// Factory builds a completion client from resolved params
type Factory func(ctx context.Context, params ProviderParams) (core.CompletionClient, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider available under name. Later registrations win.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Names lists the registered providers
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named provider's client
func New(ctx context.Context, name string, opts ...ProviderOption) (core.CompletionClient, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (have %v)", name, Names())
	}

	params := ProviderParams{}
	for _, opt := range opts {
		opt(&params)
	}
	return f(ctx, params)
}
