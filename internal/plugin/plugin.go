// Package plugin defines the Plugin capability consumed by the worker
// pool's success hook (§6): asset normalization keyed by asset type, with a
// default pass-through when nothing matches. Grounded on
// plugins/base.go and plugins/registry.go; dynamic entry-point discovery is
// replaced with a small static Go interface and registry, since Go has no
// idiomatic analogue of Python's runtime entry-point loading.
package plugin

// AssetRecord is one normalized asset produced from a fetch.
type AssetRecord struct {
	Identifier     string
	AssetType      string
	Checksum       string
	Tags           []string
	NormalizedPath string
	Metadata       map[string]string
}

// Plugin normalizes a successfully fetched asset into zero or more records.
type Plugin interface {
	Supports(assetType string) bool
	Normalize(sourceURL, rawPath, metadataJSON, normalizedDir string) ([]AssetRecord, error)
}

// Registry holds the plugins configured for a source, tried in order.
type Registry struct {
	plugins []Plugin
}

// NewRegistry builds a registry from the given plugins, tried in order.
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Normalize runs the first matching plugin's Normalize, or falls back to a
// single default record carrying the fetcher's own asset_type and checksum
// when no plugin matches.
func (r *Registry) Normalize(assetType, sourceURL, rawPath, checksum, metadataJSON, normalizedDir string) ([]AssetRecord, error) {
	for _, p := range r.plugins {
		if p.Supports(assetType) {
			return p.Normalize(sourceURL, rawPath, metadataJSON, normalizedDir)
		}
	}
	return []AssetRecord{{
		Identifier: sourceURL,
		AssetType:  assetType,
		Checksum:   checksum,
	}}, nil
}
