// Package traverse implements the bounded-depth, single-frontier crawl of
// one configured site: sitemap seeding, relevance-gated BFS expansion and
// document acquisition.
package traverse

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SiteConfig bounds and filters the crawl of one source site.
type SiteConfig struct {
	// Name identifies the site in stored records and logs.
	Name string `mapstructure:"name"`
	// URL is the crawl root.
	URL string `mapstructure:"url"`
	// MaxPages bounds pages actually fetched, not enqueued.
	MaxPages int `mapstructure:"max_pages"`
	// MaxDepth bounds frontier depth; the root is depth 0.
	MaxDepth int `mapstructure:"max_depth"`
	// Delay is the politeness pause between requests.
	Delay time.Duration `mapstructure:"delay"`
	// Keywords gate page relevance and document downloads. Empty means
	// everything is relevant.
	Keywords []string `mapstructure:"keywords"`
	// FileExts are the document extensions to acquire, e.g. ".pdf".
	FileExts []string `mapstructure:"file_exts"`
	// ExcludeKeywords drop URLs containing any of these substrings.
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	// ExcludePrefixes drop files whose basename starts with any of these.
	ExcludePrefixes []string `mapstructure:"exclude_prefixes"`
}

// Validate checks the parts a crawl cannot run without.
func (c SiteConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("site name is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site %s: invalid root url %q", c.Name, c.URL)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("site %s: max_pages must be positive", c.Name)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("site %s: max_depth must not be negative", c.Name)
	}
	return nil
}

func (c SiteConfig) withDefaults() SiteConfig {
	if len(c.FileExts) == 0 {
		c.FileExts = []string{".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx", ".txt", ".md"}
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	return c
}
