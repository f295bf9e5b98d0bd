// Package urlfilter implements the URL Filter (§4.2): host and path
// admission over a layered, per-domain rule set plus a runtime deny set
// mutated during the run by auth-redirect detection. path_allowed is a pure
// function of its inputs (§8 Filter determinism).
package urlfilter

import (
	"sort"
	"strings"
	"sync"

	"github.com/danwakefield/fnmatch"
)

// DomainRule is the allow/deny path configuration for one domain.
type DomainRule struct {
	AllowPaths []string
	DenyPaths  []string
}

// Rules is the static, per-source configuration: domain -> DomainRule.
type Rules map[string]DomainRule

// Filter evaluates host and path admission. It owns the mutable runtime
// deny set; everything else is immutable for the lifetime of the Filter.
type Filter struct {
	rules Rules

	mu            sync.RWMutex
	runtimeDenies map[string][]string // host -> deny patterns, additive only
}

func New(rules Rules) *Filter {
	return &Filter{
		rules:         rules,
		runtimeDenies: make(map[string][]string),
	}
}

// HostAllowed reports whether host is admissible: some configured domain D
// satisfies host == D or host ends in ".D" (www. is stripped from the
// allowlist before matching so "www.D" aliases "D"). An empty rule set
// admits every host.
func (f *Filter) HostAllowed(host string) bool {
	if len(f.rules) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for domain := range f.rules {
		if matchesDomain(host, domain) {
			return true
		}
	}
	return false
}

func matchesDomain(host, domain string) bool {
	domain = strings.ToLower(domain)
	domain = strings.TrimPrefix(domain, "www.")
	if host == domain {
		return true
	}
	if strings.HasSuffix(host, "."+domain) {
		return true
	}
	return false
}

// PathAllowed decides admission for (host, path) using the longest matching
// domain's rules, the union of its configured deny_paths and the runtime
// deny set for host, then allow_paths. It is a pure function of f's current
// rule set and runtime deny snapshot.
func (f *Filter) PathAllowed(host, urlPath string) bool {
	if !f.HostAllowed(host) {
		return false
	}
	if urlPath == "" {
		urlPath = "/"
	}

	rule, matched := f.longestMatchingDomain(host)
	if !matched {
		return true
	}

	denies := append([]string{}, rule.DenyPaths...)
	denies = append(denies, f.runtimeDeniesFor(host)...)
	for _, pattern := range denies {
		if matchPattern(pattern, urlPath) {
			return false
		}
	}

	if len(rule.AllowPaths) == 0 {
		return true
	}
	for _, pattern := range rule.AllowPaths {
		if matchPattern(pattern, urlPath) {
			return true
		}
	}
	return false
}

// longestMatchingDomain selects the rule belonging to the longest matching
// domain (host-suffix match, length measured without a leading "www.").
// Rules is a map and keeps no configuration order, so ties between
// equal-length domains go to the lexicographically smallest domain name.
func (f *Filter) longestMatchingDomain(host string) (DomainRule, bool) {
	host = strings.ToLower(host)

	var domains []string
	for d := range f.rules {
		if matchesDomain(host, d) {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		return DomainRule{}, false
	}

	sort.SliceStable(domains, func(i, j int) bool {
		li := len(strings.TrimPrefix(strings.ToLower(domains[i]), "www."))
		lj := len(strings.TrimPrefix(strings.ToLower(domains[j]), "www."))
		if li != lj {
			return li > lj
		}
		return domains[i] < domains[j]
	})
	return f.rules[domains[0]], true
}

func (f *Filter) runtimeDeniesFor(host string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string{}, f.runtimeDenies[strings.ToLower(host)]...)
}

// AddRuntimeDeny appends a pattern to host's runtime deny set. Additive and
// idempotent, so relaxed visibility across workers is acceptable (§5).
func (f *Filter) AddRuntimeDeny(host, pattern string) {
	host = strings.ToLower(host)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.runtimeDenies[host] {
		if existing == pattern {
			return
		}
	}
	f.runtimeDenies[host] = append(f.runtimeDenies[host], pattern)
}

// RuntimeDenies returns a snapshot of the full runtime deny set, used to
// emit the end-of-run suggested configuration patch.
func (f *Filter) RuntimeDenies() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]string, len(f.runtimeDenies))
	for host, patterns := range f.runtimeDenies {
		out[host] = append([]string{}, patterns...)
	}
	return out
}

// matchPattern implements the pattern semantics of §4.2:
//   - "prefix/**" matches any path starting with "prefix/" and at least one
//     further segment ("prefix" alone does not match).
//   - "prefix/*" matches paths beginning with "prefix/".
//   - any pattern containing '*', '?' or '[' is a shell-style glob against
//     the full path.
//   - otherwise, strict equality.
func matchPattern(pattern, urlPath string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		rest := strings.TrimPrefix(urlPath, prefix+"/")
		return strings.HasPrefix(urlPath, prefix+"/") && rest != ""
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(urlPath, prefix+"/")
	}
	if strings.ContainsAny(pattern, "*?[") {
		return fnmatch.Match(pattern, urlPath, 0)
	}
	return pattern == urlPath
}
