package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"lot_harvester/config"
	"lot_harvester/httputil"
)

// Fetcher returns the raw HTML behind a marketplace URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchError covers network failures, timeouts and non-success statuses.
// StatusCode is 0 when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetcher picks the implementation named by cfg.Scraper.Fetcher
func NewFetcher(cfg *config.Config) Fetcher {
	switch cfg.Scraper.Fetcher {
	case "browser":
		return NewBrowserFetcher(&cfg.Site, cfg.Scraper.FetchTimeout)
	default:
		client := httputil.NewScrapingClient(&cfg.Proxy, cfg.Scraper.FetchTimeout)
		return NewHTTPFetcher(&cfg.Site, client)
	}
}

type HTTPFetcher struct {
	site   *config.SiteConfig
	client *http.Client
}

func NewHTTPFetcher(site *config.SiteConfig, client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{site: site, client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.site.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.site.Language)
	if f.site.Cookie != "" {
		req.Header.Set("Cookie", f.site.Cookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return string(body), nil
}
