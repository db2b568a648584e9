package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"tradeline/internal/domain"
)

// Config models marketplace.yml.
type Config struct {
	Marketplace struct {
		Name string `yaml:"name"`
	} `yaml:"marketplace"`
	Ledger struct {
		CompletionKeywords []string                  `yaml:"completion_keywords"`
		PageSize           int                       `yaml:"page_size"`
		UpdateTypes        map[string]UpdateTypeSpec `yaml:"update_types"`
	} `yaml:"ledger"`
	Settlement struct {
		Rating struct {
			Min int `yaml:"min"`
			Max int `yaml:"max"`
		} `yaml:"rating"`
	} `yaml:"settlement"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// UpdateTypeSpec describes one entry of the ledger update-type catalog.
type UpdateTypeSpec struct {
	Category    domain.Category `yaml:"category"`
	Description string          `yaml:"description"`
	Requires    []string        `yaml:"requires"`
	// Signals names a lifecycle signal carried by the type; only "revision" is recognised.
	Signals string `yaml:"signals"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const SignalRevision = "revision"

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Ledger.CompletionKeywords) == 0 {
		return fmt.Errorf("config.ledger.completion_keywords is required")
	}
	for _, kw := range c.Ledger.CompletionKeywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("config.ledger.completion_keywords contains an empty keyword")
		}
	}
	if c.Ledger.PageSize < 0 {
		return fmt.Errorf("config.ledger.page_size must not be negative")
	}
	if len(c.Ledger.UpdateTypes) == 0 {
		return fmt.Errorf("config.ledger.update_types is required")
	}
	for name, spec := range c.Ledger.UpdateTypes {
		if name == "" {
			return fmt.Errorf("config.ledger.update_types contains empty type name")
		}
		if !spec.Category.Valid() {
			return fmt.Errorf("update type %s has unknown category %q", name, spec.Category)
		}
		if spec.Signals != "" && spec.Signals != SignalRevision {
			return fmt.Errorf("update type %s has unknown signal %q", name, spec.Signals)
		}
		for _, key := range spec.Requires {
			if key == "" {
				return fmt.Errorf("update type %s requires an empty metadata key", name)
			}
		}
	}
	minRating, maxRating := c.Settlement.Rating.Min, c.Settlement.Rating.Max
	if minRating < 1 || maxRating > 5 || maxRating < minRating {
		return fmt.Errorf("config.settlement.rating bounds invalid: min=%d max=%d", minRating, maxRating)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// UpdateType looks up a catalog entry.
func (c *Config) UpdateType(name string) (UpdateTypeSpec, bool) {
	spec, ok := c.Ledger.UpdateTypes[name]
	return spec, ok
}

// PageSize returns the ledger listing page size, defaulting to 50.
func (c *Config) PageSize() int {
	if c.Ledger.PageSize <= 0 {
		return 50
	}
	return c.Ledger.PageSize
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "marketplace.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `marketplace:
  name: tradeline

ledger:
  completion_keywords: [completed]
  page_size: 50
  update_types:
    check_in:
      category: activity
      description: "Professional checked in on site"
    check_out:
      category: activity
      description: "Professional left the site"
    on_my_way:
      category: activity
      description: "Professional is travelling to the site"
    work_started:
      category: activity
      description: "Work started"
    progress_note:
      category: activity
      description: "Free-form progress note"
    task_done:
      category: status
      description: "A named task was finished"
      requires: [task]
    status_change:
      category: status
      description: "A tracked field changed value"
      requires: [field, value]
    revisit_required:
      category: status
      description: "Rework is required before the job can be submitted"
      signals: revision
    photo:
      category: files
      description: "Photo attached"
    document:
      category: files
      description: "Document attached"
    expense:
      category: expenses
      description: "Expense incurred"
      requires: [amount]
    material_purchase:
      category: expenses
      description: "Materials purchased"
      requires: [amount]
    schedule_change:
      category: schedule
      description: "Visit rescheduled"
    delay:
      category: schedule
      description: "Work delayed"
      requires: [reason]

settlement:
  rating:
    min: 1
    max: 5
`
