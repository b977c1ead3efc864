package router

import (
	"strings"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

var tierOrder = []string{models.ComplexitySimple, models.ComplexityModerate, models.ComplexityComplex}

// knownTiers covers models commonly returned by the ledger that a provider
// config may not declare.
var knownTiers = map[string]string{
	"gpt-3.5-turbo":              models.ComplexitySimple,
	"gpt-4o-mini":                models.ComplexityModerate,
	"gpt-4o":                     models.ComplexityComplex,
	"gpt-4":                      models.ComplexityComplex,
	"gpt-4-turbo":                models.ComplexityComplex,
	"claude-3-haiku-20240307":    models.ComplexitySimple,
	"claude-3-5-haiku-20241022":  models.ComplexitySimple,
	"claude-3-5-sonnet-20241022": models.ComplexityModerate,
	"claude-3-opus-20240229":     models.ComplexityComplex,
	"llama-3.1-8b-instant":       models.ComplexitySimple,
	"mixtral-8x7b-32768":         models.ComplexityModerate,
	"llama-3.3-70b-versatile":    models.ComplexityComplex,
}

// TierRank orders tiers simple < moderate < complex. Unknown tiers rank as moderate.
func TierRank(tier string) int {
	for i, t := range tierOrder {
		if t == tier {
			return i
		}
	}
	return 1
}

// Catalog answers provider, chain and tier questions from the router config.
type Catalog struct {
	cfg *config.RouterConfig
}

func NewCatalog(cfg *config.RouterConfig) *Catalog {
	return &Catalog{cfg: cfg}
}

func (c *Catalog) Providers() []string {
	return c.cfg.ProviderNames()
}

func (c *Catalog) Has(provider string) bool {
	_, ok := c.cfg.Provider(provider)
	return ok
}

// ModelFor returns the provider's model for tier, or its nearest declared tier.
func (c *Catalog) ModelFor(provider, tier string) string {
	p, ok := c.cfg.Provider(provider)
	if !ok {
		return ""
	}
	if m := p.Models[tier]; m != "" {
		return m
	}
	want := TierRank(tier)
	for dist := 1; dist < len(tierOrder); dist++ {
		for _, r := range []int{want + dist, want - dist} {
			if r < 0 || r >= len(tierOrder) {
				continue
			}
			if m := p.Models[tierOrder[r]]; m != "" {
				return m
			}
		}
	}
	return ""
}

// TierOf places a model on the tier scale: the provider's own declaration
// first, then the built-in table, else moderate.
func (c *Catalog) TierOf(provider, model string) string {
	if p, ok := c.cfg.Provider(provider); ok {
		for _, tier := range tierOrder {
			if p.Models[tier] == model {
				return tier
			}
		}
	}
	if tier, ok := knownTiers[strings.ToLower(model)]; ok {
		return tier
	}
	return models.ComplexityModerate
}

// Chain is the provider priority for a bucket: the configured chain, then any
// configured provider it left out.
func (c *Catalog) Chain(bucket string) []string {
	seen := make(map[string]bool)
	var chain []string
	for _, name := range c.cfg.Chains[bucket] {
		if c.Has(name) && !seen[name] {
			chain = append(chain, name)
			seen[name] = true
		}
	}
	for _, name := range c.Providers() {
		if !seen[name] {
			chain = append(chain, name)
			seen[name] = true
		}
	}
	return chain
}

// Available narrows a chain to the caller's providers. An empty or
// unsatisfiable restriction leaves the chain unchanged; ok reports whether
// the restriction was applied.
func (c *Catalog) Available(chain []string, restrict []string) ([]string, bool) {
	if len(restrict) == 0 {
		return chain, true
	}
	allowed := make(map[string]bool, len(restrict))
	for _, p := range restrict {
		allowed[p] = true
	}
	var out []string
	for _, p := range chain {
		if allowed[p] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return chain, false
	}
	return out, true
}
