package traverse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docharvest/internal/blob"
	"docharvest/internal/download"
	"docharvest/internal/harvest"
	"docharvest/internal/metrics"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// memStore is an in-memory FileIndex, BlobIndex and PageLog.
type memStore struct {
	mu    sync.Mutex
	files map[string]harvest.FileRecord
	blobs map[string]harvest.Blob
	pages map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		files: make(map[string]harvest.FileRecord),
		blobs: make(map[string]harvest.Blob),
		pages: make(map[string]time.Time),
	}
}

func (m *memStore) UpsertFile(_ context.Context, rec harvest.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.files[rec.URL]; ok {
		rec.FirstSeen = prev.FirstSeen
	}
	m.files[rec.URL] = rec
	return nil
}

func (m *memStore) FileExists(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[url]
	return ok, nil
}

func (m *memStore) FileByURL(_ context.Context, url string) (*harvest.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.files[url]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *memStore) ListFiles(context.Context, harvest.FileListOptions) ([]harvest.FileRecord, error) {
	return nil, nil
}

func (m *memStore) UpsertBlob(_ context.Context, b harvest.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.blobs[b.Fingerprint]; ok {
		b.FirstSeen = prev.FirstSeen
	}
	m.blobs[b.Fingerprint] = b
	return nil
}

func (m *memStore) BlobByFingerprint(_ context.Context, fp string) (*harvest.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blobs[fp]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *memStore) MarkPageSeen(_ context.Context, url string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[url] = seen
	return nil
}

func newTestController(t *testing.T, store *memStore) *Controller {
	t.Helper()
	metrics.Init()
	baseDir := t.TempDir()
	clock := fakeClock{now: time.Unix(1700000000, 0).UTC()}
	logger := zap.NewNop()

	dl, err := download.New(download.Config{BaseDir: baseDir, UserAgent: "docharvest-test"}, logger)
	require.NoError(t, err)
	blobs := blob.NewStore(store, clock, logger)

	c, err := NewController(Config{BaseDir: baseDir, UserAgent: "docharvest-test"},
		store, dl, blobs, clock, logger)
	require.NoError(t, err)
	return c
}

func testSite(name, rootURL string) SiteConfig {
	return SiteConfig{
		Name:     name,
		URL:      rootURL,
		MaxPages: 10,
		MaxDepth: 2,
		Delay:    time.Millisecond,
		Keywords: []string{"actuarial"},
		FileExts: []string{".pdf"},
	}
}

func pageHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}
}

func TestCrawlDownloadsRelevantDocument(t *testing.T) {
	t.Parallel()

	pdfBody := "%PDF-1.4 actuarial report"
	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><head><title>Research</title></head>
		<body><p>Latest actuarial pricing papers.</p>
		<a href="/docs/report.pdf">Pricing report</a>
		<a href="/about.html">About</a></body></html>`))
	mux.HandleFunc("/about.html", pageHandler(`<html><body>Contact details only.</body></html>`))
	mux.HandleFunc("/docs/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, pdfBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	stats, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)

	require.Equal(t, int64(1), stats.FilesFound)
	require.Len(t, store.files, 1)
	require.Len(t, store.blobs, 1)

	rec := store.files[srv.URL+"/docs/report.pdf"]
	require.Equal(t, "soa", rec.SourceSite)
	require.Equal(t, "Pricing report", rec.Title)
	require.Equal(t, "report.pdf", rec.OriginalFilename)
	require.Equal(t, int64(len(pdfBody)), rec.ByteSize)
	require.NotEmpty(t, rec.Fingerprint)
	require.NotEmpty(t, rec.LocalPath)
	require.Contains(t, store.pages, srv.URL+"/")
}

func TestCrawlDeduplicatesIdenticalContentAcrossURLs(t *testing.T) {
	t.Parallel()

	pdfBody := "%PDF-1.4 identical bytes"
	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial studies
		<a href="/a/report.pdf">first</a>
		<a href="/b/copy.pdf">second</a></body></html>`))
	serve := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, pdfBody)
	}
	mux.HandleFunc("/a/report.pdf", serve)
	mux.HandleFunc("/b/copy.pdf", serve)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	stats, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)

	require.Equal(t, int64(2), stats.FilesFound)
	require.Equal(t, int64(1), stats.DedupHits)
	require.Len(t, store.files, 2)
	require.Len(t, store.blobs, 1, "identical content must share one blob")

	first := store.files[srv.URL+"/a/report.pdf"]
	second := store.files[srv.URL+"/b/copy.pdf"]
	require.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestCrawlChecksExclusionAfterRedirect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial content
		<a href="/doc.pdf">report</a></body></html>`))
	mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/archive/doc.pdf", http.StatusFound)
	})
	mux.HandleFunc("/archive/doc.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 archived")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	site := testSite("soa", srv.URL+"/")
	site.ExcludeKeywords = []string{"archive"}

	stats, err := c.Crawl(context.Background(), site)
	require.NoError(t, err)

	require.Equal(t, int64(0), stats.FilesFound)
	require.Empty(t, store.files, "redirect target matched an exclusion")
	require.Empty(t, store.blobs)
}

func TestCrawlExcludesFilenamePrefixes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial content
		<a href="/files/draft_notes.pdf">draft</a>
		<a href="/files/final.pdf">final</a></body></html>`))
	serve := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 ", r.URL.Path)
	}
	mux.HandleFunc("/files/draft_notes.pdf", serve)
	mux.HandleFunc("/files/final.pdf", serve)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	site := testSite("soa", srv.URL+"/")
	site.ExcludePrefixes = []string{"draft_"}

	stats, err := c.Crawl(context.Background(), site)
	require.NoError(t, err)

	require.Equal(t, int64(1), stats.FilesFound)
	require.Contains(t, store.files, srv.URL+"/files/final.pdf")
	require.NotContains(t, store.files, srv.URL+"/files/draft_notes.pdf")
}

func TestCrawlSeedsFromSitemap(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
			<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<url><loc>%s/hidden.html</loc></url>
			</urlset>`, srvURL)
	})
	mux.HandleFunc("/hidden.html", pageHandler(`<html><body>actuarial page
		<a href="/paper.pdf">paper</a></body></html>`))
	mux.HandleFunc("/paper.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 paper")
	})
	// The root links to nothing; only the sitemap knows about hidden.html.
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial index</body></html>`))
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	store := newMemStore()
	c := newTestController(t, store)

	stats, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)

	require.Equal(t, int64(1), stats.FilesFound)
	require.Contains(t, store.pages, srv.URL+"/hidden.html")
	require.Contains(t, store.files, srv.URL+"/paper.pdf")
}

func TestCrawlHonorsDepthLimit(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial root
		<a href="/level1.html">deeper</a></body></html>`))
	mux.HandleFunc("/level1.html", pageHandler(`<html><body>actuarial level one
		<a href="/paper.pdf">paper</a></body></html>`))
	mux.HandleFunc("/paper.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 deep paper")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	site := testSite("soa", srv.URL+"/")
	site.MaxDepth = 0

	_, err := c.Crawl(context.Background(), site)
	require.NoError(t, err)

	require.NotContains(t, store.pages, srv.URL+"/level1.html",
		"depth 1 page must not be visited with max_depth 0")
	require.Empty(t, store.files)
}

func TestCrawlSkipsLinksOnIrrelevantPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>cooking recipes only
		<a href="/other.html">other</a>
		<a href="/menu.pdf">menu</a></body></html>`))
	mux.HandleFunc("/other.html", pageHandler(`<html><body>more recipes</body></html>`))
	mux.HandleFunc("/menu.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 menu")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	_, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)

	require.Empty(t, store.files, "documents on irrelevant pages stay untouched")
	require.NotContains(t, store.pages, srv.URL+"/other.html")
}

func TestCrawlDownloadsDocWhenAnchorMatchesKeyword(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>general news page
		<a href="/study.pdf">Actuarial mortality study</a></body></html>`))
	mux.HandleFunc("/study.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 study")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	_, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)

	require.Contains(t, store.files, srv.URL+"/study.pdf",
		"matching anchor text downloads even when the page is irrelevant")
}

func TestCrawlRespectsPageBudget(t *testing.T) {
	t.Parallel()

	var fetched int64
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".xml") {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		fetched++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>actuarial page
			<a href="/p%d.html">next</a></body></html>`, fetched)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	site := testSite("soa", srv.URL+"/")
	site.MaxPages = 3
	site.MaxDepth = 10

	stats, err := c.Crawl(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.PagesVisited)
}

func TestCrawlStopCheckTerminatesEarly(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial
		<a href="/a.html">a</a><a href="/b.html">b</a></body></html>`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)
	c.Stop = func() bool { return true }

	stats, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.PagesVisited)
}

func TestCrawlSwallowsPageFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler(`<html><body>actuarial root
		<a href="/broken.html">broken</a>
		<a href="/fine.html">fine</a></body></html>`))
	mux.HandleFunc("/broken.html", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/fine.html", pageHandler(`<html><body>more actuarial text</body></html>`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	c := newTestController(t, store)

	stats, err := c.Crawl(context.Background(), testSite("soa", srv.URL+"/"))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failures)
	require.Contains(t, store.pages, srv.URL+"/fine.html")
}

func TestCrawlValidatesSiteConfig(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newMemStore())

	_, err := c.Crawl(context.Background(), SiteConfig{Name: "x", URL: "://bad", MaxPages: 1})
	require.Error(t, err)

	_, err = c.Crawl(context.Background(), SiteConfig{Name: "x", URL: "https://example.org", MaxPages: 0})
	require.Error(t, err)
}
