package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lot_harvester/config"
)

func TestNewScrapingClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewScrapingClient(&config.ProxyConfig{}, 5*time.Second)
	resp, err := client.Get(srv.URL + "/gone")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
}

func TestNewScrapingClient_Timeout(t *testing.T) {
	client := NewScrapingClient(nil, 7*time.Second)
	if client.Timeout != 7*time.Second {
		t.Fatalf("expected timeout 7s, got %s", client.Timeout)
	}
}

func TestNewScrapingClient_Proxy(t *testing.T) {
	client := NewScrapingClient(&config.ProxyConfig{URL: "http://127.0.0.1:8888"}, time.Second)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.Proxy == nil {
		t.Fatalf("expected proxy to be configured")
	}

	req, _ := http.NewRequest("GET", "https://funpay.com/lots/612/", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil {
		t.Fatalf("proxy func failed: %v", err)
	}
	if proxyURL.Host != "127.0.0.1:8888" {
		t.Fatalf("unexpected proxy host %s", proxyURL.Host)
	}
}
