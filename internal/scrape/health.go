package scrape

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// HealthChecker probes the public portal listing page: a lightweight
// smoke test that the site is reachable and still serving the listing,
// without spending a browser session on it.
type HealthChecker struct {
	WebBase   string
	UserAgent string
	Timeout   time.Duration
}

func NewHealthChecker(webBase string) *HealthChecker {
	return &HealthChecker{
		WebBase:   webBase,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// Check visits the listing page and verifies a non-empty 200 response.
func (h *HealthChecker) Check() error {
	c := colly.NewCollector(
		colly.UserAgent(h.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(h.Timeout)

	var status, bodyLen int
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		bodyLen = len(r.Body)
	})

	if err := c.Visit(ListingPageURL(h.WebBase, 1, ListingFilters{})); err != nil {
		return fmt.Errorf("portal unreachable: %w", err)
	}
	c.Wait()

	if status != http.StatusOK {
		return fmt.Errorf("portal responded with status %d", status)
	}
	if bodyLen == 0 {
		return fmt.Errorf("portal responded with an empty body")
	}
	return nil
}
