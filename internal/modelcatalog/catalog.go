// Package modelcatalog describes the LLM models the Session Gateway
// adapters (Anthropic, OpenAI) can address, and their capabilities, so the
// Manager's ManagerModel/AssistantModel configuration can be validated
// before a run starts.
package modelcatalog

import (
	"sort"
	"strings"
	"sync"
)

// Provider identifies a Session Gateway backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Capability identifies a model capability relevant to the Assistant Agent's
// use of tools and long contexts.
type Capability string

const (
	CapTools       Capability = "tools"
	CapStreaming   Capability = "streaming"
	CapJSON        Capability = "json"
	CapReasoning   Capability = "reasoning"
	CapLongContext Capability = "long_context"
	CapCaching     Capability = "caching"
)

// Tier identifies a model's quality/cost tier.
type Tier string

const (
	TierFlagship Tier = "flagship"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
)

// Model describes one addressable model.
type Model struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Provider        Provider     `json:"provider"`
	Tier            Tier         `json:"tier"`
	ContextWindow   int          `json:"context_window"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
	Capabilities    []Capability `json:"capabilities"`
	Aliases         []string     `json:"aliases,omitempty"`
	Deprecated      bool         `json:"deprecated,omitempty"`
}

// HasCapability reports whether m can do cap.
func (m *Model) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// SupportsTools reports whether m supports function calling, a requirement
// for any model used as AssistantModel.
func (m *Model) SupportsTools() bool {
	return m.HasCapability(CapTools)
}

// Catalog is a concurrency-safe registry of known models and their aliases.
type Catalog struct {
	mu      sync.RWMutex
	models  map[string]*Model
	aliases map[string]string
}

// NewCatalog returns a Catalog pre-populated with the built-in Anthropic and
// OpenAI models the two Session Gateway adapters support out of the box.
func NewCatalog() *Catalog {
	c := &Catalog{
		models:  make(map[string]*Model),
		aliases: make(map[string]string),
	}
	c.registerBuiltinModels()
	return c
}

// Register adds or replaces a model and its aliases.
func (c *Catalog) Register(m *Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.ID] = m
	for _, alias := range m.Aliases {
		c.aliases[strings.ToLower(alias)] = m.ID
	}
}

// Get resolves id directly or via alias.
func (c *Catalog) Get(id string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.models[id]; ok {
		return m, true
	}
	if realID, ok := c.aliases[strings.ToLower(id)]; ok {
		return c.models[realID], true
	}
	return nil, false
}

// Filter narrows a List call.
type Filter struct {
	Providers            []Provider
	RequiredCapabilities []Capability
	IncludeDeprecated    bool
}

// Matches reports whether m satisfies f.
func (f *Filter) Matches(m *Model) bool {
	if f == nil {
		return true
	}
	if len(f.Providers) > 0 {
		found := false
		for _, p := range f.Providers {
			if p == m.Provider {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, cap := range f.RequiredCapabilities {
		if !m.HasCapability(cap) {
			return false
		}
	}
	if !f.IncludeDeprecated && m.Deprecated {
		return false
	}
	return true
}

// List returns models matching filter, sorted by provider then name.
func (c *Catalog) List(filter *Filter) []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []*Model
	for _, m := range c.models {
		if filter == nil || filter.Matches(m) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// ByProvider returns the gateway adapter provider for a model ID or alias,
// used to route ManagerModel/AssistantModel to the correct adapter.
func (c *Catalog) ByProvider(id string) (Provider, bool) {
	m, ok := c.Get(id)
	if !ok {
		return "", false
	}
	return m.Provider, true
}

func (c *Catalog) registerBuiltinModels() {
	c.Register(&Model{
		ID:              "claude-opus-4",
		Name:            "Claude Opus 4",
		Provider:        ProviderAnthropic,
		Tier:            TierFlagship,
		ContextWindow:   200000,
		MaxOutputTokens: 32000,
		Capabilities:    []Capability{CapTools, CapStreaming, CapJSON, CapLongContext, CapCaching},
		Aliases:         []string{"opus"},
	})
	c.Register(&Model{
		ID:              "claude-3-5-sonnet-latest",
		Name:            "Claude 3.5 Sonnet",
		Provider:        ProviderAnthropic,
		Tier:            TierStandard,
		ContextWindow:   200000,
		MaxOutputTokens: 8192,
		Capabilities:    []Capability{CapTools, CapStreaming, CapJSON, CapLongContext, CapCaching},
		Aliases:         []string{"claude-3-5-sonnet", "sonnet"},
	})
	c.Register(&Model{
		ID:              "claude-3-5-haiku-latest",
		Name:            "Claude 3.5 Haiku",
		Provider:        ProviderAnthropic,
		Tier:            TierFast,
		ContextWindow:   200000,
		MaxOutputTokens: 8192,
		Capabilities:    []Capability{CapTools, CapStreaming, CapJSON, CapLongContext},
		Aliases:         []string{"claude-3-5-haiku", "haiku"},
	})
	c.Register(&Model{
		ID:              "gpt-4o",
		Name:            "GPT-4o",
		Provider:        ProviderOpenAI,
		Tier:            TierStandard,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		Capabilities:    []Capability{CapTools, CapStreaming, CapJSON, CapLongContext},
	})
	c.Register(&Model{
		ID:              "gpt-4o-mini",
		Name:            "GPT-4o Mini",
		Provider:        ProviderOpenAI,
		Tier:            TierFast,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		Capabilities:    []Capability{CapTools, CapStreaming, CapJSON, CapLongContext},
	})
	c.Register(&Model{
		ID:              "o3-mini",
		Name:            "o3-mini",
		Provider:        ProviderOpenAI,
		Tier:            TierStandard,
		ContextWindow:   200000,
		MaxOutputTokens: 100000,
		Capabilities:    []Capability{CapTools, CapReasoning, CapJSON, CapLongContext},
	})
}

// DefaultCatalog is the process-wide catalog used when callers don't need
// an isolated instance (e.g. Config.Validate's model-existence check).
var DefaultCatalog = NewCatalog()
