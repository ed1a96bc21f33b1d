package facilitator

import (
	"fmt"
	"strings"
)

// DefaultURL is used when no facilitator is configured.
const DefaultURL = "https://x402.org/facilitator"

// CreateHeaders supplies extra HTTP headers for facilitator calls, keyed by
// operation ("verify" or "settle"). Supports authenticated facilitators.
type CreateHeaders func() (map[string]map[string]string, error)

// Config configures a facilitator client.
type Config struct {
	// URL is the facilitator base URL. Must start with http:// or https://.
	URL string `yaml:"url"`

	// CreateHeaders, when set, is invoked before each call.
	CreateHeaders CreateHeaders `yaml:"-"`
}

// Validate checks the URL and normalizes it by stripping a trailing slash.
func (c *Config) Validate() error {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("invalid facilitator URL %s, must start with http:// or https://", c.URL)
	}
	c.URL = strings.TrimSuffix(c.URL, "/")
	return nil
}
