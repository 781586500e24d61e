// Package config loads the read-only ledger settings: the periodic
// anchor interval, the default letter template version, and the reports
// directory for the batch tools. Settings come from an optional YAML
// file; every field has a working default.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bondtrace/bondtrace/internal/anchor"
)

// Settings holds the ledger configuration. It is read-only at runtime;
// nothing in the core algorithms writes settings back.
type Settings struct {
	// AnchorInterval is the periodic anchor interval. Every
	// AnchorInterval-th event in a stream carries a full snapshot even
	// when no milestone forces one.
	AnchorInterval int `yaml:"anchor_interval"`

	// TemplateVersion is stamped on new rows so downstream letter
	// rendering can reproduce the artifact generated at event time.
	TemplateVersion string `yaml:"template_version"`

	// ReportsDir is where backfill and audit write their JSON reports.
	ReportsDir string `yaml:"reports_dir"`
}

// Default returns the settings used when no config file is given.
func Default() Settings {
	return Settings{
		AnchorInterval:  anchor.DefaultInterval,
		TemplateVersion: "1",
		ReportsDir:      "reports",
	}
}

// Load reads settings from a YAML file, filling unset fields with
// defaults. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if s.AnchorInterval <= 0 {
		return Settings{}, fmt.Errorf("config %s: anchor_interval must be positive, got %d", path, s.AnchorInterval)
	}
	if s.TemplateVersion == "" {
		s.TemplateVersion = Default().TemplateVersion
	}
	if s.ReportsDir == "" {
		s.ReportsDir = Default().ReportsDir
	}
	return s, nil
}

// Policy returns the anchor policy configured by these settings.
func (s Settings) Policy() anchor.Policy {
	if s.AnchorInterval <= 0 {
		return anchor.Default()
	}
	return anchor.Policy{Interval: s.AnchorInterval}
}
