package middleware

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tollgate-labs/x402/facilitator"
	"github.com/tollgate-labs/x402/types"
)

// FileConfig is the YAML form of a gateway configuration.
type FileConfig struct {
	// Listen is the address the embedding server binds to. Not consumed by
	// the middleware itself.
	Listen string `yaml:"listen"`

	Facilitator   facilitator.Config `yaml:"facilitator"`
	MaxBufferSize int                `yaml:"max_buffer_size"`
	Rules         []FileRule         `yaml:"rules"`
}

// FileRule is the YAML form of one payment rule. Prices in file form are
// Money amounts; token-denominated rules are built in code.
type FileRule struct {
	Price             filePrice `yaml:"price"`
	PayTo             string    `yaml:"pay_to"`
	Paths             []string  `yaml:"paths"`
	Network           string    `yaml:"network"`
	Description       string    `yaml:"description"`
	MimeType          string    `yaml:"mime_type"`
	MaxTimeoutSeconds int       `yaml:"max_timeout_seconds"`
	Resource          string    `yaml:"resource"`
}

// filePrice is a Money amount in file form. It accepts both quoted strings
// ("$0.001") and bare YAML numbers (0.001).
type filePrice string

func (p *filePrice) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("price must be a string or number, got %s", value.Tag)
	}
	*p = filePrice(value.Value)
	return nil
}

// LoadConfig reads and parses a YAML gateway configuration.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(fc.Rules) == 0 {
		return nil, fmt.Errorf("at least one rule must be configured")
	}
	for i, r := range fc.Rules {
		if r.Price == "" {
			return nil, fmt.Errorf("rule %d: price is required", i)
		}
		if r.PayTo == "" {
			return nil, fmt.Errorf("rule %d: pay_to is required", i)
		}
	}

	return &fc, nil
}

// Config converts the file form into a middleware Config. Validation beyond
// presence checks happens in New.
func (fc *FileConfig) Config() Config {
	rules := make([]RuleConfig, 0, len(fc.Rules))
	for _, r := range fc.Rules {
		rules = append(rules, RuleConfig{
			Price:             types.Money(string(r.Price)),
			PayTo:             r.PayTo,
			Paths:             r.Paths,
			Network:           r.Network,
			Description:       r.Description,
			MimeType:          r.MimeType,
			MaxTimeoutSeconds: r.MaxTimeoutSeconds,
			Resource:          r.Resource,
		})
	}
	return Config{
		Facilitator:   fc.Facilitator,
		Rules:         rules,
		MaxBufferSize: fc.MaxBufferSize,
	}
}
