package config

import (
	"os"
	"path/filepath"
	"testing"
)

const defaultYAML = `
version: 1
default_source: docs
logging:
  level: info
crawler:
  parallel_agents: 2
  pages_per_agent: 5
  jitter_seconds: 0
  heartbeat_seconds: 10
  max_retries: 3
  backoff_min_seconds: 1
  backoff_max_seconds: 30
  backoff_multiplier: 2
storage:
  path: ./state.db
outputs:
  base_path: ./out
  raw_subdir: raw
  normalized_subdir: normalized
  metadata_subdir: metadata
  media_subdir: media
sources:
  - name: docs
    start_urls: ["https://example.com/"]
    depth: 2
    allowed_domains:
      example.com:
        allow_paths: ["/docs/**"]
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestLoad_ValidDefaultOnly(t *testing.T) {
	path := writeTemp(t, "default.yaml", defaultYAML)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DefaultSource != "docs" {
		t.Fatalf("DefaultSource = %q, want docs", cfg.DefaultSource)
	}
	if cfg.Crawler.ParallelAgents != 2 {
		t.Fatalf("ParallelAgents = %d, want 2", cfg.Crawler.ParallelAgents)
	}
	src, ok := cfg.Source("docs")
	if !ok {
		t.Fatal("expected source docs to be present")
	}
	if src.Depth != 2 {
		t.Fatalf("Depth = %d, want 2", src.Depth)
	}
}

func TestLoad_LocalOverlayMergesByName(t *testing.T) {
	defaultPath := writeTemp(t, "default.yaml", defaultYAML)
	localPath := writeTemp(t, "local.yaml", `
crawler:
  max_retries: 5
sources:
  - name: docs
    depth: 4
`)

	cfg, err := Load(defaultPath, localPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Crawler.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5 (overlay should win)", cfg.Crawler.MaxRetries)
	}
	if cfg.Crawler.ParallelAgents != 2 {
		t.Fatalf("ParallelAgents = %d, want 2 (untouched by overlay)", cfg.Crawler.ParallelAgents)
	}
	src, _ := cfg.Source("docs")
	if src.Depth != 4 {
		t.Fatalf("Depth = %d, want 4 (overlay should win by source name)", src.Depth)
	}
	if len(src.StartURLs) != 1 {
		t.Fatalf("StartURLs = %v, want untouched single entry", src.StartURLs)
	}
}

func TestLoad_MissingDefaultSourceFails(t *testing.T) {
	path := writeTemp(t, "default.yaml", `
version: 1
default_source: nope
logging:
  level: info
crawler:
  parallel_agents: 1
  pages_per_agent: 1
  heartbeat_seconds: 1
  backoff_multiplier: 1
sources:
  - name: docs
    start_urls: ["https://example.com/"]
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for default_source not matching any configured source")
	}
}

func TestLoad_DuplicateSourceNamesFails(t *testing.T) {
	path := writeTemp(t, "default.yaml", `
version: 1
default_source: docs
logging:
  level: info
crawler:
  parallel_agents: 1
  pages_per_agent: 1
  heartbeat_seconds: 1
  backoff_multiplier: 1
sources:
  - name: docs
    start_urls: ["https://example.com/"]
  - name: docs
    start_urls: ["https://example.org/"]
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for duplicate source names")
	}
}

func TestNormalizedLevel_WarnAliasesWarning(t *testing.T) {
	l := LoggingConfig{Level: "warn"}
	if l.NormalizedLevel() != "warning" {
		t.Fatalf("NormalizedLevel() = %q, want warning", l.NormalizedLevel())
	}
}

func TestEffectivePrecedence_OverrideBeatsSourceBeatsCrawler(t *testing.T) {
	crawler := CrawlerConfig{ParallelAgents: 3}
	two := 2
	source := SourceConfig{ParallelAgents: &two}

	if got := EffectiveParallelAgents(crawler, source, nil); got != 2 {
		t.Fatalf("EffectiveParallelAgents() = %d, want 2 (source beats crawler)", got)
	}
	five := 5
	if got := EffectiveParallelAgents(crawler, source, &five); got != 5 {
		t.Fatalf("EffectiveParallelAgents() = %d, want 5 (override beats all)", got)
	}

	sourceNoOverride := SourceConfig{}
	if got := EffectiveParallelAgents(crawler, sourceNoOverride, nil); got != 3 {
		t.Fatalf("EffectiveParallelAgents() = %d, want 3 (crawler default)", got)
	}
}
