// Package mapper resolves client model names to upstream model names.
package mapper

import (
	"maps"
	"strings"
)

// Defaults used when a tier or the default is left unset.
const (
	DefaultModel  = "openai/gpt-oss-120b:free"
	DefaultOpus   = "openai/gpt-oss-20b:free"
	DefaultSonnet = "openai/gpt-oss-120b:free"
	DefaultHaiku  = "moonshotai/kimi-k2:free"
)

// DefaultTable is the mapping used when configuration supplies none.
func DefaultTable() map[string]string {
	return map[string]string{
		"claude-sonnet-4-5-20250929": "openai/gpt-oss-120b:free",
		"claude-haiku-4-5-20251001":  "openai/gpt-oss-120b:free",
		"claude-sonnet":              "openai/gpt-oss-120b:free",
		"claude-opus":                "openai/gpt-oss-20b:free",
		"claude-haiku":               "moonshotai/kimi-k2:free",
		"gpt-oss":                    "openai/gpt-oss-120b:free",
	}
}

// Config is the static mapping table plus the tier fallbacks.
type Config struct {
	Table   map[string]string
	Opus    string
	Sonnet  string
	Haiku   string
	Default string
}

// Mapper is immutable after New and safe for concurrent use.
type Mapper struct {
	table    map[string]string
	tiers    []tier
	fallback string
}

type tier struct {
	marker string
	model  string
}

func New(cfg Config) *Mapper {
	m := &Mapper{
		table:    maps.Clone(cfg.Table),
		fallback: orDefault(cfg.Default, DefaultModel),
	}
	if m.table == nil {
		m.table = map[string]string{}
	}
	// checked in order
	m.tiers = []tier{
		{marker: "sonnet", model: orDefault(cfg.Sonnet, m.tierFromTable("claude-sonnet", DefaultSonnet))},
		{marker: "opus", model: orDefault(cfg.Opus, m.tierFromTable("claude-opus", DefaultOpus))},
		{marker: "haiku", model: orDefault(cfg.Haiku, m.tierFromTable("claude-haiku", DefaultHaiku))},
	}
	return m
}

// Resolve never fails: provider-qualified names ("vendor/model") pass
// through, exact table entries win, then tier substrings, then the default.
func (m *Mapper) Resolve(clientModel string) string {
	name := strings.TrimSpace(clientModel)
	if name == "" {
		return m.fallback
	}
	if strings.Contains(name, "/") {
		return name
	}
	if upstream, ok := m.table[name]; ok && upstream != "" {
		return upstream
	}

	lower := strings.ToLower(name)
	for _, t := range m.tiers {
		if strings.Contains(lower, t.marker) {
			return t.model
		}
	}
	return m.fallback
}

func (m *Mapper) tierFromTable(key, def string) string {
	if v := m.table[key]; v != "" {
		return v
	}
	return def
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
