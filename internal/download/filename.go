package download

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]+`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// OriginalFilename recovers the server-advertised filename from the
// Content-Disposition header, falling back to the final URL's path basename.
// Returns "" when neither yields a name.
func OriginalFilename(header http.Header, finalURL string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return name
			}
		}
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// SanitizeFilename strips characters that are unsafe in filenames and
// collapses whitespace. An empty result becomes "file".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\x00", "")
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(multiSpace.ReplaceAllString(name, " "))
	if name == "" {
		return "file"
	}
	return name
}
