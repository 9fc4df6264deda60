// Package httpreq builds the shared HTTP client and the per-invocation
// requests that workers send through it. This is the "HTTP Client Handle"
// and "Request Builder" external collaborators of spec §6 — built here so
// the engine has something concrete to drive, but kept deliberately thin:
// no retry, no redirect-following, no connection-pool tuning beyond what a
// benchmark needs.
package httpreq

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/example/surge/internal/config"
)

// BuildClient constructs the shared *http.Client used by every worker.
// Redirects are disabled so a benchmark measures the target's direct
// response, not a chain of hops.
func BuildClient(cfg config.Config) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.Insecure} //nolint:gosec // opt-in via --insecure

	if cfg.Cert != "" && cfg.Key != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("load client TLS identity: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		DialContext: (&net.Dialer{
			Timeout: cfg.Timeout,
		}).DialContext,
		DisableKeepAlives:   cfg.DisableKeepAlive,
		MaxIdleConns:        2000,
		MaxIdleConnsPerHost: 2000,
		MaxConnsPerHost:     0, // unbounded: the dispatcher and connections flag are the real ceiling
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return client, nil
}

// parseHeaders turns "Key: Value" strings into a header map, matching the
// original's trim-then-split-on-first-colon behavior; a missing value
// becomes an empty string rather than a parse error.
func parseHeaders(raw []string, disableKeepAlive bool) http.Header {
	headers := make(http.Header, len(raw)+1)
	for _, h := range raw {
		parts := strings.SplitN(strings.TrimSpace(h), ":", 2)
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		headers.Set(key, value)
	}

	if disableKeepAlive {
		headers.Set("Connection", "Close")
	}

	return headers
}

// readBodyFile loads a body file fully into memory; benchmark request
// bodies are assumed small enough that streaming isn't worth the added
// complexity.
func readBodyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body file: %w", err)
	}
	return data, nil
}
