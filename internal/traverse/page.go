package traverse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// link is one outbound anchor on a fetched page.
type link struct {
	url    string
	anchor string
}

// page holds what the controller needs from one fetched HTML page.
type page struct {
	finalURL  *url.URL
	title     string
	published time.Time
	text      string
	links     []link
}

// fetchPage GETs rawURL and parses it as HTML. The final URL after
// redirects is returned so exclusion rules can be re-checked against it.
func (c *Controller) fetchPage(ctx context.Context, rawURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build page request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch page %s: HTTP %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", rawURL, err)
	}

	p := &page{
		finalURL:  resp.Request.URL,
		title:     strings.TrimSpace(doc.Find("title").First().Text()),
		published: parsePublished(doc),
	}

	doc.Find("script, style, noscript").Remove()
	p.text = doc.Find("body").Text()

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		normalized := normalizeURL(p.finalURL, href)
		if normalized == "" {
			return
		}
		p.links = append(p.links, link{
			url:    normalized,
			anchor: strings.TrimSpace(sel.Text()),
		})
	})
	return p, nil
}

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parsePublished looks for the usual published-time markers.
func parsePublished(doc *goquery.Document) time.Time {
	candidates := []string{
		doc.Find(`meta[property="article:published_time"]`).AttrOr("content", ""),
		doc.Find(`meta[name="date"]`).AttrOr("content", ""),
		doc.Find(`time[datetime]`).AttrOr("datetime", ""),
	}
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range publishedLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
