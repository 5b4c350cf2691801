package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"lot_harvester/config"
)

// BrowserFetcher loads pages in headless Chromium. It is slower than HTTPFetcher
// but gets through when the marketplace starts challenging plain HTTP clients.
type BrowserFetcher struct {
	site        *config.SiteConfig
	timeout     time.Duration
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserFetcher(site *config.SiteConfig, timeout time.Duration) *BrowserFetcher {
	return &BrowserFetcher{site: site, timeout: timeout}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FetchError{URL: pageURL, Err: err}
	}
	if err := f.ensureBrowser(); err != nil {
		return "", &FetchError{URL: pageURL, Err: err}
	}

	page, err := f.context.NewPage()
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("new page: %w", err)}
	}
	defer page.Close()

	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(f.timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: err}
	}
	if resp == nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("no response")}
	}
	if status := resp.Status(); status < 200 || status > 299 {
		return "", &FetchError{URL: pageURL, StatusCode: status, Err: fmt.Errorf("unexpected status: %d", status)}
	}

	html, err := page.Content()
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("read content: %w", err)}
	}
	return html, nil
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	f.browser, err = f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	f.context, err = f.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(f.site.UserAgent),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": f.site.Language,
		},
	})
	if err != nil {
		f.browser.Close()
		f.pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	if cookies := browserCookies(f.site); len(cookies) > 0 {
		if err := f.context.AddCookies(cookies); err != nil {
			log.Printf("Warning: failed to set cookies: %v", err)
		}
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return
	}
	f.context.Close()
	f.browser.Close()
	f.pw.Stop()
	f.initialized = false
}

// browserCookies turns "a=1; b=2" into cookies scoped to the site host
func browserCookies(site *config.SiteConfig) []playwright.OptionalCookie {
	u, err := url.Parse(site.BaseURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}

	var cookies []playwright.OptionalCookie
	for _, part := range strings.Split(site.Cookie, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, playwright.OptionalCookie{
			Name:   name,
			Value:  value,
			Domain: playwright.String(u.Hostname()),
			Path:   playwright.String("/"),
		})
	}
	return cookies
}
