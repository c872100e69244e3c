package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SiteConfig holds per-service overrides for a traversal.
type SiteConfig struct {
	// StartURL is where the traversal begins for this service.
	StartURL string `yaml:"start_url,omitempty"`

	// Query overrides the goal vocabulary.
	Query []string `yaml:"query,omitempty"`

	// ExtraDenylist adds href/label patterns that must never be clicked.
	ExtraDenylist []string `yaml:"extra_denylist,omitempty"`

	// MaxSteps overrides the global click budget. Zero keeps the global value.
	MaxSteps int `yaml:"max_steps,omitempty"`
}

// SitesFile is the structure of the sites YAML document.
type SitesFile struct {
	// Sites maps a service name (e.g. "zoom") to its configuration.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// LoadSitesFile reads and parses a sites YAML document.
func LoadSitesFile(path string) (*SitesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file %s: %w", path, err)
	}
	var sf SitesFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse sites file %s: %w", path, err)
	}
	return &sf, nil
}

// Site returns the merged configuration for a service. Lookup is case-insensitive.
func (sf *SitesFile) Site(name string) (SiteConfig, bool) {
	result := sf.Defaults

	var site SiteConfig
	found := false
	for key, sc := range sf.Sites {
		if strings.EqualFold(key, name) {
			site, found = sc, true
			break
		}
	}
	if !found {
		return result, false
	}

	if site.StartURL != "" {
		result.StartURL = site.StartURL
	}
	if len(site.Query) > 0 {
		result.Query = site.Query
	}
	if len(site.ExtraDenylist) > 0 {
		// Denylists accumulate; a site can only add restrictions.
		merged := make([]string, 0, len(result.ExtraDenylist)+len(site.ExtraDenylist))
		merged = append(merged, result.ExtraDenylist...)
		merged = append(merged, site.ExtraDenylist...)
		result.ExtraDenylist = merged
	}
	if site.MaxSteps != 0 {
		result.MaxSteps = site.MaxSteps
	}
	return result, true
}
