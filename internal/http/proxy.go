package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/constants"
)

// ConfigureHTTPClient builds a client honouring the [proxy] settings.
func ConfigureHTTPClient(p config.ProxySettings) (*nethttp.Client, error) {
	transport := newTransport()

	switch strings.ToLower(p.Mode) {
	case "no-proxy", "":
		transport.Proxy = nil

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment

	case "basic":
		if p.Host == "" {
			return nil, config.NewConfigError("proxy.host", "is required for basic proxy mode")
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy)

	case "ntlm":
		if p.Host == "" {
			return nil, config.NewConfigError("proxy.host", "is required for ntlm proxy mode")
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy)
		return &nethttp.Client{
			Transport: ntlmssp.Negotiator{RoundTripper: transport},
			Timeout:   constants.HTTPClientTimeout,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", p.Mode)
	}

	return &nethttp.Client{
		Transport: transport,
		Timeout:   constants.HTTPClientTimeout,
	}, nil
}

func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// buildProxyURL constructs the proxy URL. Credentials are embedded only
// when both user and password are set.
func buildProxyURL(p config.ProxySettings) *url.URL {
	port := p.Port
	if port == 0 {
		port = 8080
	}
	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", p.Host, port),
	}
	if p.User != "" && p.Password != "" {
		proxyURL.User = url.UserPassword(p.User, p.Password)
	}
	return proxyURL
}

// proxyFuncWithBypass routes through proxyURL except for hosts matched by
// noProxy (comma-separated hosts, wildcard domains and CIDRs).
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
}

// ProxyActive reports whether requests built from p go through a proxy.
func ProxyActive(p config.ProxySettings, getenv func(string) string) bool {
	switch strings.ToLower(p.Mode) {
	case "no-proxy", "":
		return false
	case "system":
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
			if getenv(k) != "" {
				return true
			}
		}
		return false
	default:
		return true
	}
}
