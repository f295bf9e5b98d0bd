package runmeta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"sitesync/internal/config"
	"sitesync/internal/model"
)

func TestWrite_ProducesReadableArtifact(t *testing.T) {
	dir := t.TempDir()
	outputs := config.OutputsConfig{BasePath: dir, MetadataSubdir: "metadata"}

	doc := Document{
		Run:            model.Run{ID: 42, Source: "docs", Status: model.RunCompleted},
		TaskCounts:     model.TaskStatusCounts{Finished: 5},
		OpenExceptions: 0,
		Environment:    CurrentEnvironment(),
	}

	path, err := Write(outputs, doc)
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if filepath.Base(path) != "run-42.json" {
		t.Fatalf("path = %q, want basename run-42.json", path)
	}
	wantDir := filepath.Join(dir, "metadata")
	if filepath.Dir(path) != wantDir {
		t.Fatalf("Write() wrote to %q, want under %q (metadata_subdir is relative to base_path)", path, wantDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var got Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got.Run.ID != 42 || got.TaskCounts.Finished != 5 {
		t.Fatalf("round-tripped document = %+v", got)
	}
}
