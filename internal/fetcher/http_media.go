// Grounded on fetchers/http.py: a streaming media fetcher that downloads to
// a content-addressed file (sha256 of the bytes), classifies HTTP failures
// as transient or permanent, and enforces a size cap.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sitesync/internal/errtypes"
	"sitesync/internal/model"
)

// mimeExtensions maps a Content-Type prefix to the extension the downloaded
// file is given, matching _MIME_EXTENSIONS in the original implementation.
var mimeExtensions = map[string]string{
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/svg+xml":    ".svg",
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"audio/mpeg":       ".mp3",
	"audio/wav":        ".wav",
	"application/pdf":  ".pdf",
	"application/zip":  ".zip",
	"application/json": ".json",
}

func extensionFromContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := mimeExtensions[contentType]; ok {
		return ext
	}
	return ""
}

// HTTPMediaFetcher downloads media URLs with a streaming GET, writing the
// body to a content-addressed path under MediaDir.
type HTTPMediaFetcher struct {
	Client   *http.Client
	MediaDir string
	MaxBytes int64
}

// NewHTTPMediaFetcher builds a fetcher with sane defaults.
func NewHTTPMediaFetcher(mediaDir string) *HTTPMediaFetcher {
	return &HTTPMediaFetcher{
		Client:   &http.Client{Timeout: 60 * time.Second},
		MediaDir: mediaDir,
		MaxBytes: 200 * 1024 * 1024,
	}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, task model.Task) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return FetchResult{}, errtypes.NewPermanent(fmt.Errorf("invalid url %q: %w", task.URL, err))
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return FetchResult{}, errtypes.NewTransient(fmt.Errorf("media fetch %s: %w", task.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return FetchResult{}, errtypes.NewTransient(&errtypes.HTTPStatusError{StatusCode: resp.StatusCode, URL: task.URL})
	}
	if resp.StatusCode >= 400 {
		return FetchResult{}, errtypes.NewPermanent(&errtypes.HTTPStatusError{StatusCode: resp.StatusCode, URL: task.URL})
	}

	hasher := sha256.New()
	limited := io.LimitReader(resp.Body, f.MaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return FetchResult{}, errtypes.NewTransient(fmt.Errorf("media read %s: %w", task.URL, err))
	}
	if int64(len(data)) > f.MaxBytes {
		return FetchResult{}, errtypes.NewPermanent(fmt.Errorf("media %s exceeds size cap of %d bytes", task.URL, f.MaxBytes))
	}
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	ext := extensionFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = filepath.Ext(task.URL)
	}

	if err := os.MkdirAll(f.MediaDir, 0o755); err != nil {
		return FetchResult{}, fmt.Errorf("media dir %s: %w", f.MediaDir, err)
	}
	rawPath := filepath.Join(f.MediaDir, checksum+ext)
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, data, 0o644); err != nil {
			return FetchResult{}, fmt.Errorf("write media %s: %w", rawPath, err)
		}
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"url":          resp.Request.URL.String(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"size":         len(data),
	})

	return FetchResult{
		AssetsCreated:  1,
		RawPayloadPath: rawPath,
		Checksum:       checksum,
		AssetType:      "media",
		MetadataJSON:   string(meta),
		FinalURL:       resp.Request.URL.String(),
	}, nil
}
