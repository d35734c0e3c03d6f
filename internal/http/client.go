package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/simchain/internal/config"
)

// CreateOptimizedClient returns a client tuned for large object-store
// transfers: a wide connection pool, no compression, HTTP/2 unless a
// proxy is active, and no overall timeout (operations use contexts).
//
// Set DISABLE_HTTP2=true to force HTTP/1.1, FORCE_HTTP2=true to keep
// HTTP/2 through a proxy.
func CreateOptimizedClient(p config.ProxySettings) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(p)
	if err != nil {
		return nil, err
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" ||
		(ProxyActive(p, os.Getenv) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}
