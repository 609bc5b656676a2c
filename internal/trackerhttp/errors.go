package trackerhttp

import "errors"

var (
	errResponseTooLarge = errors.New("trackerhttp: response exceeded MaxTrackerResponseSize")
	errManagerClosing   = errors.New("trackerhttp: manager is shutting down")
	errScrapeNotSupported = errors.New("trackerhttp: tracker URL's path has no announce segment to rewrite for scrape (BEP 48)")
)
