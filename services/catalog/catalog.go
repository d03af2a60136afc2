// Package catalog seeds the global rule template library and the capability
// registry from a YAML or JSON file.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"gopkg.in/yaml.v3"
)

// Catalog is the content of a seed file
type Catalog struct {
	Templates    []TemplateSpec   `yaml:"templates" json:"templates"`
	Capabilities []CapabilitySpec `yaml:"capabilities" json:"capabilities"`
}

// TemplateSpec describes one system template. The id is fixed so that
// re-seeding updates the same template.
type TemplateSpec struct {
	ID           uuid.UUID       `yaml:"id" json:"id"`
	Jurisdiction string          `yaml:"jurisdiction" json:"jurisdiction"`
	Regulation   string          `yaml:"regulation" json:"regulation"`
	Vendor       string          `yaml:"vendor" json:"vendor"`
	Product      string          `yaml:"product" json:"product"`
	Severity     models.Severity `yaml:"severity" json:"severity"`
	Decision     models.Decision `yaml:"decision" json:"decision"`
	Tags         []string        `yaml:"tags" json:"tags"`
	Description  string          `yaml:"description" json:"description"`
	Category     string          `yaml:"category" json:"category"`
	References   []string        `yaml:"references" json:"references"`
	Remediation  string          `yaml:"remediation" json:"remediation"`
}

// Fields returns the rule fields the template carries
func (t TemplateSpec) Fields() models.RuleFields {
	return models.RuleFields{
		Jurisdiction: t.Jurisdiction,
		Regulation:   t.Regulation,
		Vendor:       t.Vendor,
		Product:      t.Product,
		Severity:     t.Severity,
		Decision:     t.Decision,
		Tags:         models.NormalizeTags(t.Tags),
		Description:  t.Description,
		Category:     t.Category,
		References:   t.References,
		Remediation:  t.Remediation,
	}
}

// CapabilitySpec describes one capability
type CapabilitySpec struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags" json:"tags"`
}

// Extensions lists the file extensions a catalogue may have
var Extensions = []string{".yaml", ".yml", ".json"}

// LoadFile reads and parses the catalogue at path. The format follows the
// file extension.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %q: %w", path, err)
	}
	cat, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %q: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a catalogue. ext selects JSON for ".json" and YAML
// otherwise.
func Parse(data []byte, ext string) (*Catalog, error) {
	var cat Catalog
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &cat); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, err
		}
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// validate checks the structure of the catalogue. Rule field validation is
// left to the rules service.
func (c *Catalog) validate() error {
	ids := make(map[uuid.UUID]struct{}, len(c.Templates))
	for i, t := range c.Templates {
		if t.ID == uuid.Nil {
			return fmt.Errorf("templates[%d]: id is required", i)
		}
		if _, ok := ids[t.ID]; ok {
			return fmt.Errorf("templates[%d]: duplicate id %s", i, t.ID)
		}
		ids[t.ID] = struct{}{}
	}

	names := make(map[string]struct{}, len(c.Capabilities))
	for i, cp := range c.Capabilities {
		name := strings.TrimSpace(cp.Name)
		if name == "" {
			return fmt.Errorf("capabilities[%d]: name is required", i)
		}
		if _, ok := names[name]; ok {
			return fmt.Errorf("capabilities[%d]: duplicate name %q", i, name)
		}
		names[name] = struct{}{}
	}
	return nil
}
