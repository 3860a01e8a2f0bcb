package scraper

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"camrand/internal/shared/logger"
)

// snapshotHints are path fragments that mark an image URL as a live camera
// snapshot rather than page furniture (logos, thumbnails, maps).
var snapshotHints = []string{
	"/snapshot", "/cgi-bin/", "/mjpg/", "/axis-cgi/", "/webcapture",
	"/oneshotimage", "/record/current.jpg", "/image.jpg", "/cam",
}

// DirectoryScraper walks public webcam directory pages with colly and
// collects embedded camera snapshot URLs.
type DirectoryScraper struct {
	startURLs []string
	maxFound  int
	collector *colly.Collector
}

// NewDirectoryScraper builds a scraper over the configured directory pages.
func NewDirectoryScraper(startURLs []string, maxFound int) *DirectoryScraper {
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"),
		colly.MaxDepth(2),
	)
	c.SetRequestTimeout(20 * time.Second)

	return &DirectoryScraper{
		startURLs: startURLs,
		maxFound:  maxFound,
		collector: c,
	}
}

// Name returns the scraper's name.
func (s *DirectoryScraper) Name() string {
	return "webcam-directory"
}

// Scrape visits each configured directory page and harvests camera image
// URLs from <img> tags, following same-site pagination links one level deep.
func (s *DirectoryScraper) Scrape() ([]string, error) {
	l := logger.WithComponent("RngPool/Scraper")
	l.Info().Str("source", s.Name()).Int("pages", len(s.startURLs)).Msg("Starting discovery scrape...")

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var found []string

	s.collector.OnHTML("img[src]", func(e *colly.HTMLElement) {
		src := e.Request.AbsoluteURL(e.Attr("src"))
		if !looksLikeSnapshot(src) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[src]; dup || len(found) >= s.maxFound {
			return
		}
		seen[src] = struct{}{}
		found = append(found, src)
	})

	s.collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		mu.Lock()
		full := len(found) >= s.maxFound
		mu.Unlock()
		if full {
			return
		}
		href := e.Attr("href")
		// Only follow pagination within the same directory site.
		if strings.Contains(href, "page") || strings.Contains(href, "?p=") {
			e.Request.Visit(e.Request.AbsoluteURL(href))
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("Directory page failed.")
	})

	for _, u := range s.startURLs {
		if err := s.collector.Visit(u); err != nil {
			l.Warn().Err(err).Str("url", u).Msg("Could not visit directory page.")
		}
	}
	s.collector.Wait()

	l.Info().Int("count", len(found)).Str("source", s.Name()).Msg("Discovery scrape finished.")
	return found, nil
}

func looksLikeSnapshot(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	// Hints are matched against the path and query only: a hostname like
	// cams.example must not qualify every asset the site serves.
	path := strings.ToLower(u.Path)
	target := path
	if u.RawQuery != "" {
		target += "?" + strings.ToLower(u.RawQuery)
	}
	for _, hint := range snapshotHints {
		if strings.Contains(target, hint) {
			return true
		}
	}
	return strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg")
}
