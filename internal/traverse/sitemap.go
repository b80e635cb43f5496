package traverse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/beevik/etree"
)

const maxSitemapDepth = 3

// seedsFromSitemap fetches <root>/sitemap.xml and returns up to limit page
// URLs, following nested sitemap indexes. Any failure yields nil so the
// caller can fall back to seeding with the root URL.
func (c *Controller) seedsFromSitemap(ctx context.Context, root *url.URL, limit int) []string {
	sitemapURL := root.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()
	seen := make(map[string]bool)
	urls, err := c.collectSitemap(ctx, sitemapURL, seen, maxSitemapDepth)
	if err != nil || len(urls) == 0 {
		return nil
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}
	return urls
}

func (c *Controller) collectSitemap(ctx context.Context, sitemapURL string, seen map[string]bool, depth int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth <= 0 || seen[sitemapURL] {
		return nil, nil
	}
	seen[sitemapURL] = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s: HTTP %d", sitemapURL, resp.StatusCode)
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty sitemap %s", sitemapURL)
	}

	if root.Tag == "sitemapindex" {
		var all []string
		for _, sm := range root.SelectElements("sitemap") {
			loc := sm.SelectElement("loc")
			if loc == nil {
				continue
			}
			child := strings.TrimSpace(loc.Text())
			if child == "" {
				continue
			}
			urls, err := c.collectSitemap(ctx, child, seen, depth-1)
			if err != nil {
				return nil, err
			}
			all = append(all, urls...)
		}
		return all, nil
	}

	var urls []string
	for _, el := range root.SelectElements("url") {
		loc := el.SelectElement("loc")
		if loc == nil {
			continue
		}
		if u := strings.TrimSpace(loc.Text()); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}
