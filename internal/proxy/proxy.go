// Package proxy turns a config.Proxy into an *http.Transport suitable for
// NetworkReader's client, covering the HTTP, SOCKS, and system-default
// cases from §3/§6.
package proxy

import (
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"

	"github.com/audiopipe/streamctl/internal/config"
)

// NewTransport builds an *http.Transport wired for p. DisableCompression
// mirrors the teacher transport: ICY streams are already compressed audio
// and gzip only adds CPU and a buffering stage we don't want.
func NewTransport(p config.Proxy) (*http.Transport, error) {
	transport := &http.Transport{
		DisableCompression: true,
	}

	switch p.Kind {
	case config.ProxyNone:
		transport.Proxy = nil

	case config.ProxySystem:
		transport.Proxy = http.ProxyFromEnvironment

	case config.ProxyHTTP:
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case config.ProxySOCKS:
		addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
		dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build SOCKS5 dialer: %w", err)
		}
		transport.Dial = dialer.Dial

	default:
		return nil, fmt.Errorf("unknown proxy kind: %v", p.Kind)
	}

	return transport, nil
}
