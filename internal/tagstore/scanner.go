package tagstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/roach88/storekit/internal/apifetch"
)

// MeasurementIDMatchers find a GA4 measurement ID in page HTML. Each
// pattern captures the ID in its first group.
var MeasurementIDMatchers = []*regexp.Regexp{
	regexp.MustCompile(`<script [^>]*src=['"]https://www\.googletagmanager\.com/gtag/js\?id=(G-[a-zA-Z0-9]+)['"][^>]*>`),
	regexp.MustCompile(`__gtagTracker\(\s*['"]config['"]\s*,\s*['"](G-[a-zA-Z0-9]+)['"]`),
	regexp.MustCompile(`gtag\(\s*['"]config['"]\s*,\s*['"](G-[a-zA-Z0-9]+)['"]`),
}

// PageScanner fetches pages through an apifetch client and returns the
// first tag any matcher captures. Pages that answer 404 are skipped.
// Pages are never served from the client cache, so every scan sees the
// current markup.
type PageScanner struct {
	Client   *apifetch.Client
	URLs     []string
	Matchers []*regexp.Regexp
}

// Scan implements Scanner.
func (s *PageScanner) Scan(ctx context.Context) (string, error) {
	for _, u := range s.URLs {
		v, err := s.Client.Get(ctx, apifetch.Request{
			Path:    u,
			Query:   map[string]string{"tagverify": "1"},
			Raw:     true,
			NoCache: true,
		})
		if err != nil {
			if apifetch.IsNotFound(err) {
				continue
			}
			return "", fmt.Errorf("scan %s: %w", u, err)
		}
		html, _ := v.(string)
		for _, m := range s.Matchers {
			if sub := m.FindStringSubmatch(html); len(sub) > 1 && sub[1] != "" {
				return sub[1], nil
			}
		}
	}
	return "", nil
}
