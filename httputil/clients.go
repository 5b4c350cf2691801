package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"lot_harvester/config"
)

// NewScrapingClient builds the client used against the marketplace. Redirects are
// not followed: a removed offer answers with a redirect, which must surface as a
// non-success status rather than the page it points to.
func NewScrapingClient(proxyCfg *config.ProxyConfig, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}

	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
