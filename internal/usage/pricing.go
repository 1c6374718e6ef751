package usage

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Model is one selectable entry in the model catalog.
type Model struct {
	ID        string `json:"value" yaml:"id"`
	Label     string `json:"label" yaml:"label"`
	Reasoning bool   `json:"reasoningModel" yaml:"reasoning"`
	Badge     string `json:"badge,omitempty" yaml:"badge"`
	Prices    `yaml:",inline"`
}

// DefaultModels is the built-in catalog. Prices are per million tokens.
var DefaultModels = []Model{
	{ID: "gpt-4o-mini-2024-07-18", Label: "GPT 4o mini", Prices: Prices{InputPerMillion: 0.15, OutputPerMillion: 0.6}},
	{ID: "gpt-4o-2024-08-06", Label: "GPT 4o", Badge: "Pro", Prices: Prices{InputPerMillion: 2.5, OutputPerMillion: 10}},
	{ID: "claude-3-5-sonnet-20241022", Label: "Claude 3.5 Sonnet", Badge: "Pro", Prices: Prices{InputPerMillion: 3, OutputPerMillion: 15}},
	{ID: "o3-mini-2025-01-31", Label: "o3-mini", Reasoning: true, Badge: "Pro", Prices: Prices{InputPerMillion: 1.1, OutputPerMillion: 4.4}},
	{ID: "lorem-fast", Label: "Lorem (offline)"},
}

// Catalog looks up models and their prices.
type Catalog struct {
	mu     sync.RWMutex
	order  []string
	models map[string]Model
}

func NewCatalog(models []Model) *Catalog {
	c := &Catalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if _, exists := c.models[m.ID]; !exists {
			c.order = append(c.order, m.ID)
		}
		c.models[m.ID] = m
	}
	return c
}

type catalogFile struct {
	Models []Model `yaml:"models"`
}

// LoadCatalog reads a YAML catalog. Entries override built-in models with the
// same ID; new IDs are appended. An empty path returns the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog(DefaultModels)
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model catalog %s: %w", path, err)
	}
	for _, m := range file.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("parse model catalog %s: model without id", path)
		}
		c.set(m)
	}
	return c, nil
}

func (c *Catalog) set(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.models[m.ID]; !exists {
		c.order = append(c.order, m.ID)
	}
	c.models[m.ID] = m
}

func (c *Catalog) Lookup(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Models returns the catalog in declaration order.
func (c *Catalog) Models() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}

// IDs returns the sorted model IDs.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}
