package data

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category groups definitions for trigger dispatch and placement rules.
type Category int

const (
	CategoryItem      Category = 0
	CategoryContainer Category = 1
	CategoryCharacter Category = 2
)

var categoryNames = map[string]Category{
	"item":      CategoryItem,
	"container": CategoryContainer,
	"character": CategoryCharacter,
}

func (c Category) String() string {
	switch c {
	case CategoryItem:
		return "item"
	case CategoryContainer:
		return "container"
	case CategoryCharacter:
		return "character"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

func ParseCategory(s string) (Category, error) {
	if c, ok := categoryNames[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Definition is the immutable template shared by every entity created from it.
type Definition struct {
	Name        string
	Category    Category
	Layer       Layer
	Stackable   bool
	MaxAmount   int
	Capacity    int // containers only; 0 = unlimited
	Unevictable bool
	Script      string
	Color       int
}

func (d *Definition) IsContainer() bool { return d.Category == CategoryContainer }
func (d *Definition) IsCharacter() bool { return d.Category == CategoryCharacter }

// Provider resolves definitions by name.
type Provider interface {
	Get(name string) (*Definition, bool)
}

type Table struct {
	defs  map[string]*Definition
	names []string
}

// Get returns a definition by name.
func (t *Table) Get(name string) (*Definition, bool) {
	d, ok := t.defs[name]
	return d, ok
}

// Count returns total loaded definitions.
func (t *Table) Count() int {
	return len(t.defs)
}

// Names returns every definition name in sorted order.
func (t *Table) Names() []string {
	return t.names
}

// NewTable builds a table from in-memory definitions. A zero MaxAmount on a
// stackable definition falls back to defaultMax.
func NewTable(defaultMax int, defs ...Definition) (*Table, error) {
	t := &Table{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		if d.Name == "" {
			return nil, fmt.Errorf("definition %d has no name", i)
		}
		if _, dup := t.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate definition %q", d.Name)
		}
		if d.Stackable && d.MaxAmount <= 0 {
			d.MaxAmount = defaultMax
		}
		if !d.Stackable {
			d.MaxAmount = 1
		}
		t.defs[d.Name] = &d
		t.names = append(t.names, d.Name)
	}
	sort.Strings(t.names)
	return t, nil
}

// --- yaml loading ---

type definitionEntry struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Layer       string `yaml:"layer"`
	Stackable   bool   `yaml:"stackable"`
	MaxAmount   int    `yaml:"max_amount"`
	Capacity    int    `yaml:"capacity"`
	Unevictable bool   `yaml:"unevictable"`
	Script      string `yaml:"script"`
	Color       int    `yaml:"color"`
}

type definitionListFile struct {
	Definitions []definitionEntry `yaml:"definitions"`
}

// LoadDefinitions loads the definition table from a YAML file.
func LoadDefinitions(path string, defaultMax int) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return ParseDefinitions(raw, defaultMax)
}

func ParseDefinitions(raw []byte, defaultMax int) (*Table, error) {
	var f definitionListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	defs := make([]Definition, 0, len(f.Definitions))
	for _, e := range f.Definitions {
		cat := CategoryItem
		if e.Category != "" {
			c, err := ParseCategory(e.Category)
			if err != nil {
				return nil, fmt.Errorf("definition %s: %w", e.Name, err)
			}
			cat = c
		}
		layer := LayerNone
		if e.Layer != "" {
			l, err := ParseLayer(e.Layer)
			if err != nil {
				return nil, fmt.Errorf("definition %s: %w", e.Name, err)
			}
			layer = l
		}
		defs = append(defs, Definition{
			Name:        e.Name,
			Category:    cat,
			Layer:       layer,
			Stackable:   e.Stackable,
			MaxAmount:   e.MaxAmount,
			Capacity:    e.Capacity,
			Unevictable: e.Unevictable,
			Script:      e.Script,
			Color:       e.Color,
		})
	}
	return NewTable(defaultMax, defs...)
}
