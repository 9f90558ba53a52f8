package kabulog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"kabulog/pkg/analytics"
)

// RulesFile reads highlight rules from a JSON or TOML file. The file is
// edited out of band; kabulog never writes it. Each Get re-reads the file so
// edits apply to the next refresh.
type RulesFile struct {
	path   string
	logger *slog.Logger
}

// NewRulesFile returns a reader for path. An empty path always yields defaults.
func NewRulesFile(path string, logger *slog.Logger) *RulesFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesFile{path: strings.TrimSpace(path), logger: logger}
}

// Path returns the configured file path.
func (r *RulesFile) Path() string {
	return r.path
}

// Get returns the rules in the file, or the defaults when the file is
// missing or invalid.
func (r *RulesFile) Get() analytics.HighlightRules {
	rules, err := r.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("highlight rules unusable, using defaults", "path", r.path, "err", err)
		}
		return analytics.DefaultHighlightRules()
	}
	return rules
}

// Load reads and validates the file. Thresholds absent from the file keep
// their default values.
func (r *RulesFile) Load() (analytics.HighlightRules, error) {
	if r.path == "" {
		return analytics.DefaultHighlightRules(), nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return analytics.HighlightRules{}, err
	}
	return ParseRules(data, filepath.Ext(r.path))
}

// ParseRules decodes rules from data. ext selects TOML for ".toml" and JSON otherwise.
func ParseRules(data []byte, ext string) (analytics.HighlightRules, error) {
	rules := analytics.DefaultHighlightRules()
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &rules); err != nil {
			return analytics.HighlightRules{}, fmt.Errorf("parse toml rules: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rules); err != nil {
			return analytics.HighlightRules{}, fmt.Errorf("parse json rules: %w", err)
		}
	}
	if err := rules.Validate(); err != nil {
		return analytics.HighlightRules{}, WrapError(ErrCodeValidation, "invalid highlight rules", err)
	}
	return rules, nil
}
