package app

import "errors"

// Config holds all the configuration an App instance needs to run.
type Config struct {
	ManifestPath string

	LogFormat string
	LogLevel  string

	// CLI overrides; zero values defer to the manifest settings block.
	Workers   int
	FastFail  bool
	Timeout   string
	Isolation string
	NoVerify  bool
}

// NewConfig validates cfg and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ManifestPath == "" {
		return nil, errors.New("ManifestPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
