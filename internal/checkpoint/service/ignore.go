package service

import (
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Sources reported in IgnoreResponse.Source.
const (
	IgnoreSourceFile     = "file"
	IgnoreSourceDefaults = "defaults"
)

// defaultIgnorePatterns are applied when no ignore document exists on disk
// and the request carries no explicit excludes. Build artifacts dominate
// checkpoint diffs without them.
var defaultIgnorePatterns = []string{
	"node_modules",
	"target",
	"dist",
	"build",
	".next",
	"*.min.js",
}

// ignoreDocument is the on-disk YAML shape of the ignore file.
type ignoreDocument struct {
	Patterns []string `yaml:"patterns"`
}

// IgnoreResponse reports the active diff-exclusion patterns and where they
// came from.
type IgnoreResponse struct {
	Patterns []string `json:"patterns"`
	Source   string   `json:"source"`
}

// LoadIgnore returns the configured exclusion patterns, falling back to the
// built-in defaults when the document is missing or unreadable.
func (s *Service) LoadIgnore() *IgnoreResponse {
	raw, err := os.ReadFile(s.ignorePath)
	if err != nil {
		return &IgnoreResponse{Patterns: defaultIgnorePatterns, Source: IgnoreSourceDefaults}
	}

	var doc ignoreDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("failed to parse ignore file, using defaults",
			zap.String("path", s.ignorePath), zap.Error(err))
		return &IgnoreResponse{Patterns: defaultIgnorePatterns, Source: IgnoreSourceDefaults}
	}

	return &IgnoreResponse{Patterns: doc.Patterns, Source: IgnoreSourceFile}
}

// SaveIgnore writes new exclusion patterns and returns the updated view.
func (s *Service) SaveIgnore(patterns []string) (*IgnoreResponse, error) {
	raw, err := yaml.Marshal(&ignoreDocument{Patterns: patterns})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.ignorePath, raw, 0o644); err != nil {
		return nil, err
	}
	return &IgnoreResponse{Patterns: patterns, Source: IgnoreSourceFile}, nil
}

// mergeExcludes resolves the patterns for one diff request: explicit
// request parameters win outright; with none given, the ignore document's
// patterns (or defaults) apply.
func (s *Service) mergeExcludes(explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return s.LoadIgnore().Patterns
}
