// Package runmeta writes the run metadata artifact (§6): a JSON document
// describing a completed run, written to outputs.metadata_subdir as
// run-<id>.json.
package runmeta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"sitesync/internal/config"
	"sitesync/internal/model"
)

// Document is the full contents of a run-<id>.json artifact.
type Document struct {
	Run              model.Run               `json:"run"`
	Source           config.SourceConfig     `json:"source"`
	Crawler          config.CrawlerConfig    `json:"crawler"`
	Outputs          config.OutputsConfig    `json:"outputs"`
	TaskCounts       model.TaskStatusCounts  `json:"task_counts"`
	OpenExceptions   int                     `json:"open_exceptions"`
	RuntimeDenies    map[string][]string     `json:"runtime_denies,omitempty"`
	Environment      Environment             `json:"environment"`
	WrittenAt        time.Time               `json:"written_at"`
}

// Environment carries the host/process fields the artifact records.
type Environment struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// CurrentEnvironment captures the running process's environment fields.
func CurrentEnvironment() Environment {
	return Environment{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Write serializes doc and writes it to
// outputs.base_path/outputs.metadata_subdir/run-<id>.json — metadata_subdir
// is relative to base_path, exactly like media_subdir (§6).
func Write(outputs config.OutputsConfig, doc Document) (string, error) {
	metadataDir := filepath.Join(outputs.BasePath, outputs.MetadataSubdir)
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return "", fmt.Errorf("runmeta: mkdir %s: %w", metadataDir, err)
	}

	path := filepath.Join(metadataDir, fmt.Sprintf("run-%d.json", doc.Run.ID))
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("runmeta: marshal document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("runmeta: write %s: %w", path, err)
	}
	return path, nil
}
