package scraper

// Scraper discovers candidate source endpoints from the public web.
// Implementations only collect and filter URLs; health is the business of
// the external health tool once the endpoints are in the sources file.
type Scraper interface {
	// Scrape returns candidate endpoint URLs. Best effort: a partial
	// result with no error is normal for flaky directory sites.
	Scrape() ([]string, error)

	// Name returns the scraper's name for logging.
	Name() string
}
