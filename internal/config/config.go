// Package config loads and validates the sitesync configuration schema
// (§6): a YAML document layered from a packaged default plus an optional
// local override, parsed with gopkg.in/yaml.v3 the way the teacher's
// internal/config/loader.go parses its RuntimeConfig.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the ambient logger (internal/sitelog).
type LoggingConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// CrawlerConfig is the default crawl tuning, overridable per source.
type CrawlerConfig struct {
	ParallelAgents      int      `yaml:"parallel_agents"`
	PagesPerAgent       int      `yaml:"pages_per_agent"`
	JitterSeconds       float64  `yaml:"jitter_seconds"`
	HeartbeatSeconds    int      `yaml:"heartbeat_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
	BackoffMinSeconds   float64  `yaml:"backoff_min_seconds"`
	BackoffMaxSeconds   float64  `yaml:"backoff_max_seconds"`
	BackoffMultiplier   float64  `yaml:"backoff_multiplier"`
	FetchTimeoutSeconds *float64 `yaml:"fetch_timeout_seconds"`
}

// StorageConfig locates the durable store file.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// OutputsConfig locates the artifact directory tree.
type OutputsConfig struct {
	BasePath         string `yaml:"base_path"`
	RawSubdir        string `yaml:"raw_subdir"`
	NormalizedSubdir string `yaml:"normalized_subdir"`
	MetadataSubdir   string `yaml:"metadata_subdir"`
	MediaSubdir      string `yaml:"media_subdir"`
}

// DomainFilter is one entry of a source's allowed_domains map.
type DomainFilter struct {
	AllowPaths []string `yaml:"allow_paths"`
	DenyPaths  []string `yaml:"deny_paths"`
}

// SourceConfig describes one crawl target.
type SourceConfig struct {
	Name            string                  `yaml:"name"`
	StartURLs       []string                `yaml:"start_urls"`
	AllowedDomains  map[string]DomainFilter `yaml:"allowed_domains"`
	Depth           int                     `yaml:"depth"`
	Plugins         []string                `yaml:"plugins"`
	ParallelAgents  *int                    `yaml:"parallel_agents"`
	PagesPerAgent   *int                    `yaml:"pages_per_agent"`
	JitterSeconds   *float64                `yaml:"jitter_seconds"`
	MaxPages        *int                    `yaml:"max_pages"`
	Fetcher         string                  `yaml:"fetcher"`
	FetcherOptions  map[string]string       `yaml:"fetcher_options"`
}

// Config is the full validated document.
type Config struct {
	Version       int            `yaml:"version"`
	DefaultSource string         `yaml:"default_source"`
	Logging       LoggingConfig  `yaml:"logging"`
	Crawler       CrawlerConfig  `yaml:"crawler"`
	Storage       StorageConfig  `yaml:"storage"`
	Outputs       OutputsConfig  `yaml:"outputs"`
	Sources       []SourceConfig `yaml:"sources"`
}

var recognizedLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true,
	"error": true, "critical": true,
}

// NormalizedLevel maps warn to warning so callers need one canonical form.
func (l LoggingConfig) NormalizedLevel() string {
	level := strings.ToLower(l.Level)
	if level == "warn" {
		return "warning"
	}
	if level == "" {
		return "info"
	}
	return level
}

// Source looks up a source by name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// EffectiveDepth resolves depth via CLI override > source setting > crawler
// default (§4.7). depth has no crawler-wide default in the schema, so the
// source's own depth is the final fallback.
func EffectiveDepth(source SourceConfig, override *int) int {
	if override != nil {
		return *override
	}
	return source.Depth
}

// EffectiveParallelAgents resolves parallel_agents via CLI override > source
// setting > crawler default.
func EffectiveParallelAgents(crawler CrawlerConfig, source SourceConfig, override *int) int {
	if override != nil {
		return *override
	}
	if source.ParallelAgents != nil {
		return *source.ParallelAgents
	}
	return crawler.ParallelAgents
}

// EffectivePagesPerAgent resolves pages_per_agent via the same precedence.
func EffectivePagesPerAgent(crawler CrawlerConfig, source SourceConfig, override *int) int {
	if override != nil {
		return *override
	}
	if source.PagesPerAgent != nil {
		return *source.PagesPerAgent
	}
	return crawler.PagesPerAgent
}

// Load reads defaultPath, then deep-merges localPath over it if localPath is
// non-empty and exists, then validates the result. This mirrors the
// default/local layering of the original config/loader.py.
func Load(defaultPath, localPath string) (*Config, error) {
	base, err := readYAMLMap(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("config: read default %s: %w", defaultPath, err)
	}

	if localPath != "" {
		if _, err := os.Stat(localPath); err == nil {
			overlay, err := readYAMLMap(localPath)
			if err != nil {
				return nil, fmt.Errorf("config: read local %s: %w", localPath, err)
			}
			base = mergeDicts(base, overlay)
		}
	}

	merged, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshal merged document: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse merged document: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readYAMLMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// mergeDicts deep-merges overlay onto base: maps merge key-by-key, the
// sources list merges by name (mergeSources), everything else in overlay
// replaces base outright. Grounded on config/loader.py's _merge_dicts.
func mergeDicts(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if k == "sources" {
			out[k] = mergeSources(asSliceOfMaps(base[k]), asSliceOfMaps(v))
			continue
		}
		if existing, ok := out[k].(map[string]interface{}); ok {
			if incoming, ok := v.(map[string]interface{}); ok {
				out[k] = mergeDicts(existing, incoming)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// mergeSources merges two sources lists by the "name" key: an overlay entry
// with a matching name deep-merges onto the base entry; new names append.
func mergeSources(base, overlay []map[string]interface{}) []map[string]interface{} {
	byName := make(map[string]int, len(base))
	out := append([]map[string]interface{}{}, base...)
	for i, s := range out {
		if name, ok := s["name"].(string); ok {
			byName[name] = i
		}
	}
	for _, s := range overlay {
		name, _ := s["name"].(string)
		if idx, ok := byName[name]; ok {
			out[idx] = mergeDicts(out[idx], s)
		} else {
			out = append(out, s)
			byName[name] = len(out) - 1
		}
	}
	return out
}

func asSliceOfMaps(v interface{}) []map[string]interface{} {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// validate hand-checks invariants the way the teacher validates
// configuration explicitly rather than through a struct-tag validator
// library (see DESIGN.md for why no third-party validator was wired here).
func validate(cfg *Config) error {
	if cfg.DefaultSource == "" {
		return fmt.Errorf("config: default_source is required")
	}
	seen := make(map[string]bool, len(cfg.Sources))
	foundDefault := false
	for _, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("config: source with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Name == cfg.DefaultSource {
			foundDefault = true
		}
	}
	if !foundDefault {
		return fmt.Errorf("config: default_source %q does not match any configured source", cfg.DefaultSource)
	}

	if cfg.Logging.Level != "" && !recognizedLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("config: unrecognized logging level %q", cfg.Logging.Level)
	}

	if cfg.Crawler.ParallelAgents < 1 {
		return fmt.Errorf("config: crawler.parallel_agents must be >= 1")
	}
	if cfg.Crawler.PagesPerAgent < 1 {
		return fmt.Errorf("config: crawler.pages_per_agent must be >= 1")
	}
	if cfg.Crawler.JitterSeconds < 0 {
		return fmt.Errorf("config: crawler.jitter_seconds must be >= 0")
	}
	if cfg.Crawler.HeartbeatSeconds < 1 {
		return fmt.Errorf("config: crawler.heartbeat_seconds must be >= 1")
	}
	if cfg.Crawler.MaxRetries < 0 {
		return fmt.Errorf("config: crawler.max_retries must be >= 0")
	}
	if cfg.Crawler.BackoffMinSeconds < 0 || cfg.Crawler.BackoffMaxSeconds < 0 {
		return fmt.Errorf("config: crawler.backoff_min_seconds/backoff_max_seconds must be >= 0")
	}
	if cfg.Crawler.BackoffMultiplier < 1 {
		return fmt.Errorf("config: crawler.backoff_multiplier must be >= 1")
	}

	for _, s := range cfg.Sources {
		if s.Depth < 0 {
			return fmt.Errorf("config: source %q depth must be >= 0", s.Name)
		}
	}

	return nil
}
