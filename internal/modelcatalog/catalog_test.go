package modelcatalog

import "testing"

func TestCatalogGetByIDAndAlias(t *testing.T) {
	c := NewCatalog()

	m, ok := c.Get("claude-opus-4")
	if !ok {
		t.Fatal("expected to find claude-opus-4")
	}
	if m.Name != "Claude Opus 4" {
		t.Errorf("Name = %s, want Claude Opus 4", m.Name)
	}

	m, ok = c.Get("sonnet")
	if !ok {
		t.Fatal("expected to find sonnet alias")
	}
	if m.ID != "claude-3-5-sonnet-latest" {
		t.Errorf("ID = %s, want claude-3-5-sonnet-latest", m.ID)
	}

	if _, ok := c.Get("unknown-model"); ok {
		t.Error("should not find unknown-model")
	}
}

func TestModelCapabilities(t *testing.T) {
	m := &Model{ID: "test", Capabilities: []Capability{CapTools, CapStreaming}}

	if !m.HasCapability(CapTools) {
		t.Error("should have tools capability")
	}
	if !m.SupportsTools() {
		t.Error("should support tools")
	}
	if m.HasCapability(CapReasoning) {
		t.Error("should not have reasoning capability")
	}
}

func TestCatalogListFiltersByProvider(t *testing.T) {
	c := NewCatalog()

	anthropic := c.List(&Filter{Providers: []Provider{ProviderAnthropic}})
	if len(anthropic) == 0 {
		t.Fatal("expected some anthropic models")
	}
	for _, m := range anthropic {
		if m.Provider != ProviderAnthropic {
			t.Errorf("got provider %s, want anthropic", m.Provider)
		}
	}
}

func TestCatalogListFiltersByCapability(t *testing.T) {
	c := NewCatalog()

	reasoning := c.List(&Filter{RequiredCapabilities: []Capability{CapReasoning}})
	if len(reasoning) == 0 {
		t.Fatal("expected at least one reasoning model")
	}
	for _, m := range reasoning {
		if !m.HasCapability(CapReasoning) {
			t.Errorf("model %s should have reasoning capability", m.ID)
		}
	}
}

func TestFilterMatchesDeprecated(t *testing.T) {
	deprecated := &Model{ID: "old-model", Deprecated: true}

	if (&Filter{}).Matches(deprecated) {
		t.Error("should not match deprecated by default")
	}
	if !(&Filter{IncludeDeprecated: true}).Matches(deprecated) {
		t.Error("should match when IncludeDeprecated is true")
	}
}

func TestByProviderRoutesToAdapter(t *testing.T) {
	c := NewCatalog()

	p, ok := c.ByProvider("gpt-4o-mini")
	if !ok {
		t.Fatal("expected to find gpt-4o-mini")
	}
	if p != ProviderOpenAI {
		t.Errorf("provider = %s, want openai", p)
	}

	p, ok = c.ByProvider("opus")
	if !ok {
		t.Fatal("expected alias opus to resolve")
	}
	if p != ProviderAnthropic {
		t.Errorf("provider = %s, want anthropic", p)
	}

	if _, ok := c.ByProvider("nonexistent"); ok {
		t.Error("should not resolve a provider for an unknown model")
	}
}

func TestDefaultCatalogHasBuiltins(t *testing.T) {
	if all := DefaultCatalog.List(nil); len(all) < 5 {
		t.Errorf("expected at least 5 built-in models, got %d", len(all))
	}
}
