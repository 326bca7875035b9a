package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SiteDocument is the externally maintained per-site configuration: which
// (site, database) pairs are active and how equipment IDs map to display
// identifiers. It is loaded wholesale and never mutated in place; a reload
// produces a fresh document.
type SiteDocument struct {
	Sites []SiteConfig `yaml:"sites"`
}

// SiteConfig describes one physical site and its equipment store.
type SiteConfig struct {
	Name      string            `yaml:"name"`
	Enabled   bool              `yaml:"enabled"`
	Database  DatabaseConfig    `yaml:"database"`
	Equipment []EquipmentConfig `yaml:"equipment"`
}

// DatabaseConfig holds the connection parameters of one site's equipment
// store.
type DatabaseConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// EquipmentConfig maps one site-scoped equipment ID to the identifier the
// frontend displays.
type EquipmentConfig struct {
	ID        int64  `yaml:"id"`
	DisplayID string `yaml:"display_id"`
}

// LoadSiteDocument reads and validates the site configuration file.
func LoadSiteDocument(path string) (*SiteDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}

	var doc SiteDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse site config: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate rejects documents that would leave the connection registry or
// the mapping in an unusable state.
func (d *SiteDocument) Validate() error {
	seen := make(map[string]bool, len(d.Sites))
	for _, site := range d.Sites {
		if site.Name == "" {
			return fmt.Errorf("site config: site with empty name")
		}
		if seen[site.Name] {
			return fmt.Errorf("site config: duplicate site %q", site.Name)
		}
		seen[site.Name] = true

		if site.Database.Name == "" {
			return fmt.Errorf("site config: site %q has no database name", site.Name)
		}

		ids := make(map[int64]bool, len(site.Equipment))
		for _, eq := range site.Equipment {
			if eq.DisplayID == "" {
				return fmt.Errorf("site config: site %q equipment %d has no display id", site.Name, eq.ID)
			}
			if ids[eq.ID] {
				return fmt.Errorf("site config: site %q duplicates equipment %d", site.Name, eq.ID)
			}
			ids[eq.ID] = true
		}
	}
	return nil
}

// Site returns the named site config, if present.
func (d *SiteDocument) Site(name string) (SiteConfig, bool) {
	for _, s := range d.Sites {
		if s.Name == name {
			return s, true
		}
	}
	return SiteConfig{}, false
}
