package traverse

import (
	"net/url"
	"path"
	"strings"
)

// normalizeURL resolves ref against base, strips the fragment and
// lowercases the scheme and host so frontier dedup treats equivalent URLs
// as one. Returns "" for unusable links.
func normalizeURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	resolved.Scheme = strings.ToLower(resolved.Scheme)
	resolved.Host = strings.ToLower(resolved.Host)
	return resolved.String()
}

// sameDomain reports whether rawURL is on root's host or a subdomain of it.
func sameDomain(root *url.URL, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	rootHost := strings.ToLower(root.Hostname())
	host := strings.ToLower(u.Hostname())
	return host == rootHost || strings.HasSuffix(host, "."+rootHost)
}

// isDocumentURL reports whether rawURL's path ends in one of exts.
func isDocumentURL(rawURL string, exts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// excluded reports whether rawURL hits an exclude keyword (substring match
// on the lowercased URL) or an excluded filename prefix (on the lowercased
// path basename).
func (c SiteConfig) excluded(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range c.ExcludeKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	if len(c.ExcludePrefixes) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return c.excludedFilename(path.Base(u.Path))
}

// excludedFilename applies the prefix exclusion to a bare filename, used
// both for URL basenames and for server-advertised filenames.
func (c SiteConfig) excludedFilename(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range c.ExcludePrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// matchesKeyword reports whether text contains any of the site's
// allow-listed keywords. No keywords means nothing matches; callers that
// want "empty filter accepts all" must check that first.
func (c SiteConfig) matchesKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
