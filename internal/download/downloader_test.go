package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docharvest/internal/hash/sha256"
)

func TestFetchStagesFileAndComputesFingerprint(t *testing.T) {
	t.Parallel()

	body := []byte("%PDF-1.4 pretend pdf content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	d, err := New(Config{BaseDir: t.TempDir(), UserAgent: "docharvest-test"}, zap.NewNop())
	require.NoError(t, err)

	res, err := d.Fetch(context.Background(), srv.URL+"/report.pdf")
	require.NoError(t, err)
	require.FileExists(t, res.StagedPath)
	require.Equal(t, int64(len(body)), res.Size)
	require.Equal(t, "application/pdf", res.Header.Get("Content-Type"))

	want, err := sha256.New().Hash(body)
	require.NoError(t, err)
	require.Equal(t, want, res.Fingerprint)

	staged, err := os.ReadFile(res.StagedPath)
	require.NoError(t, err)
	require.Equal(t, body, staged)
}

func TestFetchFailureLeavesNoPartialFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Advertise more bytes than are sent, then cut the connection so
		// the client sees a mid-stream failure.
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	baseDir := t.TempDir()
	d, err := New(Config{BaseDir: baseDir}, zap.NewNop())
	require.NoError(t, err)

	_, err = d.Fetch(context.Background(), srv.URL+"/big.pdf")
	require.Error(t, err)

	leftovers, err := filepath.Glob(filepath.Join(baseDir, "*", "_tmp", "*.part"))
	require.NoError(t, err)
	require.Empty(t, leftovers, "partial staging files must be removed on failure")
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d, err := New(Config{BaseDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	_, err = d.Fetch(context.Background(), srv.URL+"/missing.pdf")
	require.Error(t, err)
}

func TestNewSweepsStaleStagingFiles(t *testing.T) {
	t.Parallel()

	baseDir := t.TempDir()
	tmpDir := filepath.Join(baseDir, "example.org", "_tmp")
	require.NoError(t, os.MkdirAll(tmpDir, 0o750))

	stale := filepath.Join(tmpDir, "download_1.part")
	fresh := filepath.Join(tmpDir, "download_2.part")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o600))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	_, err := New(Config{BaseDir: baseDir}, zap.NewNop())
	require.NoError(t, err)

	require.NoFileExists(t, stale)
	require.FileExists(t, fresh)
}

func TestDiscardToleratesMissingFile(t *testing.T) {
	t.Parallel()

	d, err := New(Config{BaseDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	d.Discard(filepath.Join(t.TempDir(), "nope.part"))
	d.Discard("")
}

func TestOriginalFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		disposition string
		finalURL    string
		want        string
	}{
		{
			name:        "content disposition wins",
			disposition: `attachment; filename="annual report.pdf"`,
			finalURL:    "https://example.org/dl?id=9",
			want:        "annual report.pdf",
		},
		{
			name:     "falls back to url basename",
			finalURL: "https://example.org/docs/report.pdf",
			want:     "report.pdf",
		},
		{
			name:     "no basename",
			finalURL: "https://example.org/",
			want:     "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			header := http.Header{}
			if tt.disposition != "" {
				header.Set("Content-Disposition", tt.disposition)
			}
			require.Equal(t, tt.want, OriginalFilename(header, tt.finalURL))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a_b_c.pdf", SanitizeFilename(`a<b>/c.pdf`))
	require.Equal(t, "report 2026.pdf", SanitizeFilename("  report \t 2026.pdf "))
	require.Equal(t, "file", SanitizeFilename("   "))
}
