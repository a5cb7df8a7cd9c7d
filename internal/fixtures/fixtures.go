// Package fixtures holds the synthetic payloads returned by the workflow
// endpoints: the recognition result, the aspect schema and the settings map.
//
// The built-in defaults reproduce the mock backend. A YAML file may replace
// them, and may give individual marketplaces their own aspect schema.
package fixtures

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// Recognition is the result of the recognize step.
type Recognition struct {
	ProductName string   `json:"product_name" yaml:"product_name"`
	Categories  []string `json:"categories" yaml:"categories"`
}

// Metadata is free-form text attached to an aspect schema.
type Metadata struct {
	Description string `json:"description" yaml:"description"`
}

// Product carries the aspect values and the names that must be filled in.
type Product struct {
	Aspects  map[string]string `json:"aspects" yaml:"aspects"`
	Required []string          `json:"required" yaml:"required"`
}

// AspectSchema is the response of the aspects step.
type AspectSchema struct {
	Metadata     Metadata `json:"metadata" yaml:"metadata"`
	MetadataType string   `json:"metadata_type" yaml:"metadata_type"`
	Product      Product  `json:"product" yaml:"product"`
}

// Validate checks that every required name is a key of the aspects map.
func (s AspectSchema) Validate() error {
	for _, name := range s.Product.Required {
		if _, ok := s.Product.Aspects[name]; !ok {
			return fmt.Errorf("required aspect %q has no entry in aspects", name)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hand it out without aliasing.
func (s AspectSchema) Clone() AspectSchema {
	s.Product.Aspects = maps.Clone(s.Product.Aspects)
	s.Product.Required = slices.Clone(s.Product.Required)
	return s
}

func (s AspectSchema) normalized() AspectSchema {
	if s.Product.Aspects == nil {
		s.Product.Aspects = map[string]string{}
	}
	if s.Product.Required == nil {
		s.Product.Required = []string{}
	}
	return s
}

// Settings maps a settings key to its ordered options.
type Settings map[string][]string

// Fixtures is the full set of payloads served by the mock.
type Fixtures struct {
	Recognition          Recognition             `yaml:"recognition"`
	Aspects              AspectSchema            `yaml:"aspects"`
	AspectsByMarketplace map[string]AspectSchema `yaml:"aspects_by_marketplace"`
	Settings             Settings                `yaml:"settings"`
}

// Default returns the payloads of the reference mock backend.
func Default() *Fixtures {
	return &Fixtures{
		Recognition: Recognition{
			ProductName: "Wireless Headphones",
			Categories:  []string{"Electronics", "Audio", "Headphones"},
		},
		Aspects: AspectSchema{
			Metadata:     Metadata{Description: "High quality wireless headphones"},
			MetadataType: "Metadata",
			Product: Product{
				Aspects: map[string]string{
					"Brand":        "Sony",
					"Color":        "Black",
					"Connectivity": "Bluetooth",
					"Condition":    "New",
				},
				Required: []string{"Brand", "Color", "Connectivity"},
			},
		},
		Settings: Settings{
			"test":  {"value 1", "value 2"},
			"other": {"another"},
		},
	}
}

// AspectsFor returns the schema for a marketplace, falling back to the
// shared schema when the marketplace has no override.
func (f *Fixtures) AspectsFor(marketplace string) AspectSchema {
	if s, ok := f.AspectsByMarketplace[marketplace]; ok {
		return s.Clone()
	}
	return f.Aspects.Clone()
}

// Validate checks every schema in the set.
func (f *Fixtures) Validate() error {
	if f.Recognition.ProductName == "" {
		return fmt.Errorf("recognition.product_name is empty")
	}
	if err := f.Aspects.Validate(); err != nil {
		return fmt.Errorf("aspects: %w", err)
	}
	markets := make([]string, 0, len(f.AspectsByMarketplace))
	for m := range f.AspectsByMarketplace {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	for _, m := range markets {
		if err := f.AspectsByMarketplace[m].Validate(); err != nil {
			return fmt.Errorf("aspects_by_marketplace[%s]: %w", m, err)
		}
	}
	return nil
}

// Load reads a fixtures file. Sections missing from the file keep their
// default values.
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML fixtures on top of the defaults and validates them.
func Parse(data []byte) (*Fixtures, error) {
	f := Default()
	var raw Fixtures
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if raw.Recognition.ProductName != "" || raw.Recognition.Categories != nil {
		f.Recognition = raw.Recognition
	}
	if raw.Aspects.Product.Aspects != nil {
		f.Aspects = raw.Aspects
	}
	if raw.AspectsByMarketplace != nil {
		f.AspectsByMarketplace = raw.AspectsByMarketplace
	}
	if raw.Settings != nil {
		f.Settings = raw.Settings
	}
	// keep JSON arrays and objects as [] and {} rather than null
	if f.Recognition.Categories == nil {
		f.Recognition.Categories = []string{}
	}
	f.Aspects = f.Aspects.normalized()
	for m, schema := range f.AspectsByMarketplace {
		f.AspectsByMarketplace[m] = schema.normalized()
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
