package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models commitline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Constraints struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"constraints"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run cml init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "production-control" {
		return fmt.Errorf("config.project.kind must be 'production-control'")
	}
	if len(c.Constraints.Catalog) == 0 {
		return fmt.Errorf("config.constraints.catalog is required")
	}
	for name := range c.Constraints.Catalog {
		if name == "" {
			return fmt.Errorf("config.constraints.catalog contains empty type name")
		}
	}
	return nil
}

// KnownConstraintType reports whether t is in the configured catalog.
func (c *Config) KnownConstraintType(t string) bool {
	_, ok := c.Constraints.Catalog[t]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "commitline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: production-control

constraints:
  catalog:
    Access:
      description: "Work area is accessible and handed over"
    Materials:
      description: "Materials are on site and inspected"
    Information:
      description: "Drawings and specs are issued for construction"
    Resources:
      description: "Crew with the right skills is available"
    Permits:
      description: "Required permits are granted and current"
    Plant or equipment:
      description: "Plant and equipment are available and certified"
    Interfaces:
      description: "Preceding or adjacent work is complete"
    Weather:
      description: "Weather window is acceptable for the activity"
    Other:
      description: "Anything not covered above; describe it"
`
