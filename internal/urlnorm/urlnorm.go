// Package urlnorm canonicalizes URLs and decides whether a discovered URL
// may enter a crawl's frontier.
package urlnorm

import (
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// defaultPorts maps a scheme to the port that is implicit for it and should
// be stripped during canonicalization.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// binaryExtensions is the default blacklist of path extensions treated as
// non-HTML media, per spec.md §4.D.
var binaryExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".svg": {}, ".webp": {}, ".ico": {}, ".mp4": {}, ".mp3": {}, ".wav": {},
	".mov": {}, ".avi": {}, ".exe": {}, ".dmg": {}, ".gz": {}, ".tar": {},
	".rar": {}, ".7z": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".css": {}, ".js": {},
}

// CanonicalizeOptions controls the one configurable knob in canonicalization:
// whether query parameters are sorted (safe for most sites) or preserved
// verbatim (needed for sites where parameter order is part of the identity).
type CanonicalizeOptions struct {
	SortQuery bool
}

// Canonicalize returns the canonical string form of rawURL: lowercase scheme
// and host, default ports removed, path percent-decoded then re-encoded,
// fragment stripped, query parameters optionally sorted.
//
// Canonicalize is idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(rawURL string, opts CanonicalizeOptions) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if host, port, ok := splitHostPort(u.Host); ok {
		if defaultPorts[u.Scheme] == port {
			u.Host = host
		}
	}

	// Round-trip the path through decode/re-encode so equivalent percent
	// encodings normalize to the same form.
	if decoded, err := url.PathUnescape(u.EscapedPath()); err == nil {
		u.Path = decoded
	}
	if u.Path == "" {
		u.Path = "/"
	}

	if opts.SortQuery && u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	return u.String(), nil
}

func splitHostPort(host string) (h, port string, ok bool) {
	i := strings.LastIndex(host, ":")
	if i < 0 {
		return host, "", false
	}
	// Guard against IPv6 literals like [::1]:8080 — only split on the colon
	// after the closing bracket, if any.
	if strings.Contains(host, "]") && i < strings.LastIndex(host, "]") {
		return host, "", false
	}
	return host[:i], host[i+1:], true
}

// RegistrableDomain returns the eTLD+1 of host using the public suffix list,
// e.g. "a.b.example.co.uk" -> "example.co.uk".
func RegistrableDomain(host string) string {
	host = strings.ToLower(host)
	if dom, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return dom
	}
	return host
}

// SameHostOrSubdomain reports whether host is the root's registrable domain
// or a subdomain of it.
func SameHostOrSubdomain(host, rootHost string) bool {
	host = strings.ToLower(host)
	rootDomain := RegistrableDomain(rootHost)
	if host == rootDomain {
		return true
	}
	return strings.HasSuffix(host, "."+rootDomain)
}

// IsBinaryMedia reports whether the URL's path extension is in the default
// blacklist of non-HTML media.
func IsBinaryMedia(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, blocked := binaryExtensions[ext]
	return blocked
}

// MatchesAny reports whether path matches at least one of the glob patterns.
// An empty pattern list matches everything.
func MatchesAny(patterns []string, p string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
		if strings.HasPrefix(p, pat) {
			return true
		}
	}
	return false
}

// MatchesNone reports whether path matches none of the glob patterns.
func MatchesNone(patterns []string, p string) bool {
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, p); ok {
			return false
		}
		if pat != "" && strings.HasPrefix(p, pat) {
			return false
		}
	}
	return true
}

// IsPrefixExtension reports whether candidatePath extends rootPath, i.e.
// candidatePath == rootPath or candidatePath is nested under it. Used to
// enforce the default "no backward links" crawl policy.
func IsPrefixExtension(rootPath, candidatePath string) bool {
	rootPath = ensureTrailingSlash(rootPath)
	candidatePath = ensureTrailingSlash(candidatePath)
	return strings.HasPrefix(candidatePath, rootPath)
}

func ensureTrailingSlash(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasSuffix(p, "/") {
		return p + "/"
	}
	return p
}

// AdmitOptions carries everything Admissible needs to evaluate one URL,
// independent of the live CrawlState (visited/enqueued membership is the
// caller's, typically the Frontier's, responsibility — see spec.md §4.D's
// last two bullets, which are set-membership checks rather than pure
// functions of the URL alone).
type AdmitOptions struct {
	RootHost      string
	RootPath      string
	Depth         int
	MaxDepth      int
	AllowExternal bool
	AllowBackward bool
	AllowBinary   bool
	IncludePaths  []string
	ExcludePaths  []string
	RobotsAllowed func(u *url.URL) bool
}

// Admissible implements spec.md §4.D's admissibility predicate, excluding
// the visited/enqueued dedup check (owned by the Frontier) and robots.txt
// I/O (injected via RobotsAllowed so this stays a pure function).
func Admissible(rawURL string, opts AdmitOptions) (bool, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, "invalid_url"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, "scheme"
	}
	if !opts.AllowExternal && !SameHostOrSubdomain(u.Host, opts.RootHost) {
		return false, "external"
	}
	if !opts.AllowBinary && IsBinaryMedia(rawURL) {
		return false, "binary_media"
	}
	if opts.RobotsAllowed != nil && !opts.RobotsAllowed(u) {
		return false, "robots"
	}
	if !MatchesAny(opts.IncludePaths, u.Path) {
		return false, "include_paths"
	}
	if !MatchesNone(opts.ExcludePaths, u.Path) {
		return false, "exclude_paths"
	}
	if opts.Depth > opts.MaxDepth {
		return false, "max_depth"
	}
	if !opts.AllowBackward && !IsPrefixExtension(opts.RootPath, u.Path) {
		return false, "backward_link"
	}
	return true, ""
}

// parsePort is used by tests that need to assert the stripped-port behavior
// without re-parsing the canonical string.
func parsePort(host string) int {
	_, port, ok := splitHostPort(host)
	if !ok {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
