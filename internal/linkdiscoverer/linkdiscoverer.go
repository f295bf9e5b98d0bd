// Package linkdiscoverer implements the Link Discoverer and
// Auth-Redirect Adaptation (§4.6): HTML parsing with goquery to find
// follow-up page and media candidates, and detection of redirects into an
// authentication flow that should suppress discovery and extend the URL
// Filter's runtime deny set.
package linkdiscoverer

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sitesync/internal/model"
	"sitesync/internal/urlfilter"
)

// Candidate is one URL discovered on a page, already classified.
type Candidate struct {
	URL      string
	Depth    int
	TaskType model.TaskType
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".svg": true, ".ico": true, ".webp": true,
	".mp4": true, ".mp3": true, ".wav": true, ".avi": true, ".mov": true,
	".wmv": true, ".mkv": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".rar": true,
	".7z": true, ".dmg": true, ".exe": true, ".iso": true,
	".ppt": true, ".pptx": true, ".doc": true, ".docx": true,
	".xls": true, ".xlsx": true,
}

var trackingParamPrefixes = []string{"utm_", "hsutk", "__hstc", "__hssc", "__hsfp"}

// Discover parses raw HTML and returns the page-link and media-link
// candidates it admits. Link discovery is the caller's responsibility to
// gate on task.depth > 1 and task_type == page (§4.6 point 1); Discover
// itself is a pure function of its inputs.
func Discover(raw io.Reader, baseURL *url.URL, taskURL string, currentDepth int, filter *urlfilter.Filter) ([]Candidate, []Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(raw)
	if err != nil {
		return nil, nil, err
	}

	rawCandidates := make(map[string]bool)
	collect := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" {
			rawCandidates[v] = true
		}
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			collect(href)
		}
	})
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			collect(href)
		}
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			collect(src)
		}
		if srcset, ok := s.Attr("srcset"); ok {
			for _, u := range parseSrcset(srcset) {
				collect(u)
			}
		}
	})
	doc.Find("video[src], audio[src], source[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			collect(src)
		}
	})
	doc.Find("video[poster]").Each(func(_ int, s *goquery.Selection) {
		if poster, ok := s.Attr("poster"); ok {
			collect(poster)
		}
	})
	doc.Find(`meta[property="og:image"], meta[property="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			collect(content)
		}
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		if data, ok := s.Attr("data"); ok {
			collect(data)
		}
	})
	doc.Find("embed[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			collect(src)
		}
	})

	var pages, media []Candidate
	for raw := range rawCandidates {
		resolved, ok := resolve(baseURL, raw)
		if !ok {
			continue
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if !filter.HostAllowed(resolved.Hostname()) {
			continue
		}
		resolved.Fragment = ""
		final := resolved.String()
		if final == taskURL {
			continue
		}

		if isBinaryPath(resolved.Path) {
			stripTrackingParams(resolved)
			media = append(media, Candidate{URL: resolved.String(), Depth: 0, TaskType: model.TaskTypeMedia})
			continue
		}

		if !filter.PathAllowed(resolved.Hostname(), pathOrRoot(resolved.Path)) {
			continue
		}
		pages = append(pages, Candidate{URL: final, Depth: currentDepth - 1, TaskType: model.TaskTypePage})
	}

	return pages, media, nil
}

func pathOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func resolve(base *url.URL, raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	return base.ResolveReference(u), true
}

func isBinaryPath(p string) bool {
	idx := strings.LastIndex(p, ".")
	if idx < 0 {
		return false
	}
	return binaryExtensions[strings.ToLower(p[idx:])]
}

func stripTrackingParams(u *url.URL) {
	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		for _, prefix := range trackingParamPrefixes {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}
	u.RawQuery = q.Encode()
}

func parseSrcset(srcset string) []string {
	var out []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// AuthRedirectResult reports what the detector found.
type AuthRedirectResult struct {
	Detected     bool
	Host         string
	DenyPatterns []string
}

var authPathPrefixes = []string{"/auth/", "/oauth/", "/login", "/signin"}

// DetectAuthRedirect inspects the fetcher's final URL after a successful
// page fetch. If its path begins with an auth-flow prefix, it reports the
// deny patterns the URL Filter's runtime deny set should gain, and that
// link discovery must be skipped for this response (§4.6).
func DetectAuthRedirect(finalURL string) AuthRedirectResult {
	u, err := url.Parse(finalURL)
	if err != nil {
		return AuthRedirectResult{}
	}

	isAuth := false
	for _, prefix := range authPathPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			isAuth = true
			break
		}
	}
	if !isAuth {
		return AuthRedirectResult{}
	}

	result := AuthRedirectResult{Detected: true, Host: u.Hostname(), DenyPatterns: []string{"/auth/**"}}

	if strings.HasPrefix(u.Path, "/auth/login") {
		if continuePath := u.Query().Get("continue"); continuePath != "" {
			if !strings.HasPrefix(continuePath, "/") {
				continuePath = "/" + continuePath
			}
			result.DenyPatterns = append(result.DenyPatterns, strings.TrimSuffix(continuePath, "/")+"/**")
		}
	}

	return result
}
