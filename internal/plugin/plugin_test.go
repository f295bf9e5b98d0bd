package plugin

import "testing"

type tagPlugin struct{ assetType string }

func (p tagPlugin) Supports(assetType string) bool { return assetType == p.assetType }

func (p tagPlugin) Normalize(sourceURL, rawPath, metadataJSON, normalizedDir string) ([]AssetRecord, error) {
	return []AssetRecord{{Identifier: sourceURL, AssetType: p.assetType, Tags: []string{"custom"}}}, nil
}

func TestRegistry_FallsBackToDefaultRecord(t *testing.T) {
	r := NewRegistry()
	records, err := r.Normalize("page", "https://example.com/a", "/raw/a.html", "sum", "", "")
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if len(records) != 1 || records[0].AssetType != "page" || records[0].Checksum != "sum" {
		t.Fatalf("records = %+v, want a single default record", records)
	}
}

func TestRegistry_UsesFirstMatchingPlugin(t *testing.T) {
	r := NewRegistry(tagPlugin{assetType: "media"})
	records, err := r.Normalize("media", "https://example.com/a.png", "/raw/a.png", "sum", "", "")
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if len(records) != 1 || len(records[0].Tags) != 1 || records[0].Tags[0] != "custom" {
		t.Fatalf("records = %+v, want the tagPlugin's custom record", records)
	}
}
