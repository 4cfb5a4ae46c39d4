package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form. Secrets are never read from a file.
type fileConfig struct {
	Reader    *int   `yaml:"reader"`
	CHAT      string `yaml:"chat"`
	CertDesc  string `yaml:"cert_desc"`
	TRVersion *int   `yaml:"tr_version"`
	PinPad    *bool  `yaml:"pinpad"`
	Trace     string `yaml:"trace"`
	LogLevel  string `yaml:"log_level"`
}

// loadFile reads a YAML configuration file. Unknown keys are rejected so a
// misplaced secret is reported instead of silently ignored.
func loadFile(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// apply copies file values into cfg for every flag not given explicitly.
func (fc *fileConfig) apply(cfg *Config, given map[string]bool, chatHex, certDescHex *string) {
	if fc.Reader != nil && !given["reader"] {
		cfg.Reader = *fc.Reader
	}
	if fc.CHAT != "" && !given["chat"] {
		*chatHex = fc.CHAT
	}
	if fc.CertDesc != "" && !given["cert-desc"] {
		*certDescHex = fc.CertDesc
	}
	if fc.TRVersion != nil && !given["tr-03110v"] {
		cfg.TRVersion = *fc.TRVersion
	}
	if fc.PinPad != nil && !given["pinpad"] {
		cfg.PinPad = *fc.PinPad
	}
	if fc.Trace != "" && !given["trace"] {
		cfg.TracePath = fc.Trace
	}
	if fc.LogLevel != "" && !given["log-level"] {
		cfg.LogLevel = fc.LogLevel
	}
}
