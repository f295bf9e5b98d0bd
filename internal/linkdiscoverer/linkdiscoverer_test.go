package linkdiscoverer

import (
	"net/url"
	"strings"
	"testing"

	"sitesync/internal/model"
	"sitesync/internal/urlfilter"
)

const samplePage = `
<html><body>
<a href="/docs/intro">Intro</a>
<a href="https://other.example.net/x">Off-site</a>
<img src="/images/pic.png">
<a href="/docs/intro">Dup</a>
<a href="#fragment-only">Fragment</a>
</body></html>
`

func TestDiscover_ClassifiesPageAndMediaCandidates(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	filter := urlfilter.New(urlfilter.Rules{"example.com": {}})

	pages, media, err := Discover(strings.NewReader(samplePage), base, "https://example.com/docs/", 3, filter)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}

	if len(pages) != 1 || pages[0].URL != "https://example.com/docs/intro" {
		t.Fatalf("pages = %+v, want a single /docs/intro candidate", pages)
	}
	if pages[0].Depth != 2 {
		t.Fatalf("pages[0].Depth = %d, want 2 (current 3 - 1)", pages[0].Depth)
	}
	if pages[0].TaskType != model.TaskTypePage {
		t.Fatalf("pages[0].TaskType = %q, want page", pages[0].TaskType)
	}

	if len(media) != 1 || media[0].TaskType != model.TaskTypeMedia || media[0].Depth != 0 {
		t.Fatalf("media = %+v, want a single depth-0 media candidate", media)
	}
}

func TestDiscover_DropsOffHostAndSelfAndFragment(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	filter := urlfilter.New(urlfilter.Rules{"example.com": {}})

	pages, _, err := Discover(strings.NewReader(samplePage), base, "https://example.com/docs/", 3, filter)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	for _, c := range pages {
		if strings.Contains(c.URL, "other.example.net") {
			t.Fatalf("off-host candidate leaked through: %v", c)
		}
		if strings.Contains(c.URL, "#") {
			t.Fatalf("fragment leaked through: %v", c)
		}
	}
}

func TestDiscover_MediaURLsHaveTrackingParamsStripped(t *testing.T) {
	base, _ := url.Parse("https://example.com/")
	filter := urlfilter.New(urlfilter.Rules{"example.com": {}})

	html := `<img src="/images/pic.png?utm_source=test&id=5">`
	_, media, err := Discover(strings.NewReader(html), base, "https://example.com/", 3, filter)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if len(media) != 1 {
		t.Fatalf("media = %+v, want one candidate", media)
	}
	if strings.Contains(media[0].URL, "utm_source") {
		t.Fatalf("tracking param leaked through: %s", media[0].URL)
	}
	if !strings.Contains(media[0].URL, "id=5") {
		t.Fatalf("non-tracking param dropped: %s", media[0].URL)
	}
}

func TestDetectAuthRedirect_LoginWithContinue(t *testing.T) {
	result := DetectAuthRedirect("https://app.example.com/auth/login?continue=%2Fsettings%2Froles")
	if !result.Detected {
		t.Fatal("expected auth redirect to be detected")
	}
	if result.Host != "app.example.com" {
		t.Fatalf("Host = %q, want app.example.com", result.Host)
	}
	want := map[string]bool{"/auth/**": true, "/settings/roles/**": true}
	if len(result.DenyPatterns) != len(want) {
		t.Fatalf("DenyPatterns = %v, want %v", result.DenyPatterns, want)
	}
	for _, p := range result.DenyPatterns {
		if !want[p] {
			t.Fatalf("unexpected deny pattern %q", p)
		}
	}
}

func TestDetectAuthRedirect_NonAuthPathNotDetected(t *testing.T) {
	result := DetectAuthRedirect("https://app.example.com/settings/roles")
	if result.Detected {
		t.Fatal("expected no auth redirect for a non-auth path")
	}
}

func TestDetectAuthRedirect_OAuthPrefix(t *testing.T) {
	result := DetectAuthRedirect("https://app.example.com/oauth/authorize?client_id=1")
	if !result.Detected {
		t.Fatal("expected /oauth/ prefix to be detected")
	}
	if len(result.DenyPatterns) != 1 || result.DenyPatterns[0] != "/auth/**" {
		t.Fatalf("DenyPatterns = %v, want just /auth/**", result.DenyPatterns)
	}
}
