package http

import (
	"net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/rescale/simchain/internal/config"
)

// TestProxyFuncWithBypass_EmptyNoProxy verifies that an empty noProxy always routes through proxy.
func TestProxyFuncWithBypass_EmptyNoProxy(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "")

	req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected proxy URL, got nil (direct)")
	}
	if result.Host != "proxy.corp:8080" {
		t.Errorf("expected proxy host proxy.corp:8080, got %s", result.Host)
	}
}

// TestProxyFuncWithBypass_WildcardDomain verifies *.example.com bypasses api.example.com.
func TestProxyFuncWithBypass_WildcardDomain(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.example.com")

	// Subdomain should bypass proxy
	req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for api.example.com, got %v", result)
	}
}

// TestProxyFuncWithBypass_ExactDomain verifies example.com bypasses root and subdomains.
func TestProxyFuncWithBypass_ExactDomain(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "example.com")

	// Root domain should bypass
	req, _ := http.NewRequest("GET", "https://example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for example.com, got %v", result)
	}

	// Subdomain should also bypass (per httpproxy spec, domain without leading dot matches subdomains)
	req2, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	result2, err := proxyFunc(req2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result2 != nil {
		t.Errorf("expected nil (bypass) for api.example.com, got %v", result2)
	}
}

// TestProxyFuncWithBypass_CIDR verifies IP/CIDR range matching.
func TestProxyFuncWithBypass_CIDR(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "10.0.0.0/8")

	// IP in range should bypass
	req, _ := http.NewRequest("GET", "http://10.1.2.3:8080/api", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for 10.1.2.3, got %v", result)
	}
}

// TestProxyFuncWithBypass_NonMatchingHost verifies non-matching hosts route through proxy.
func TestProxyFuncWithBypass_NonMatchingHost(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.internal.corp,10.0.0.0/8")

	// External host should use proxy
	req, _ := http.NewRequest("GET", "https://archive.example.org/v1/", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected proxy URL for archive.example.org, got nil (direct)")
	}
	if result.Host != "proxy.corp:8080" {
		t.Errorf("expected proxy host proxy.corp:8080, got %s", result.Host)
	}
}

// TestProxyFuncWithBypass_MultiplePatterns verifies comma-separated patterns work.
func TestProxyFuncWithBypass_MultiplePatterns(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.example.com, 192.168.0.0/16, internal.corp")

	tests := []struct {
		name       string
		url        string
		wantBypass bool
	}{
		{"wildcard match", "https://api.example.com/data", true},
		{"cidr match", "http://192.168.1.100/api", true},
		{"exact domain match", "https://internal.corp/status", true},
		{"non-match", "https://archive.example.org/v1/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tt.url, nil)
			result, err := proxyFunc(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBypass && result != nil {
				t.Errorf("expected bypass (nil) for %s, got %v", tt.url, result)
			}
			if !tt.wantBypass && result == nil {
				t.Errorf("expected proxy for %s, got nil (bypass)", tt.url)
			}
		})
	}
}

func TestConfigureHTTPClientModes(t *testing.T) {
	tests := []struct {
		name    string
		proxy   config.ProxySettings
		wantErr bool
		ntlm    bool
	}{
		{"default", config.ProxySettings{}, false, false},
		{"system", config.ProxySettings{Mode: "system"}, false, false},
		{"basic", config.ProxySettings{Mode: "basic", Host: "proxy.corp", Port: 3128}, false, false},
		{"basic without host", config.ProxySettings{Mode: "basic"}, true, false},
		{"ntlm", config.ProxySettings{Mode: "ntlm", Host: "proxy.corp"}, false, true},
		{"unknown", config.ProxySettings{Mode: "socks"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := ConfigureHTTPClient(tt.proxy)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfigureHTTPClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			_, isNTLM := client.Transport.(ntlmssp.Negotiator)
			if isNTLM != tt.ntlm {
				t.Errorf("NTLM transport = %v, want %v", isNTLM, tt.ntlm)
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	u := buildProxyURL(config.ProxySettings{Host: "proxy.corp", User: "u", Password: "p"})
	if u.String() != "http://u:p@proxy.corp:8080" {
		t.Errorf("buildProxyURL() = %s", u)
	}
	u = buildProxyURL(config.ProxySettings{Host: "proxy.corp", Port: 3128, User: "u"})
	if u.User != nil || u.Host != "proxy.corp:3128" {
		t.Errorf("buildProxyURL() without password = %s", u)
	}
}

func TestProxyActive(t *testing.T) {
	env := map[string]string{"https_proxy": "http://p:1"}
	getenv := func(k string) string { return env[k] }
	none := func(string) string { return "" }

	if ProxyActive(config.ProxySettings{Mode: "no-proxy"}, getenv) {
		t.Error("no-proxy reported active")
	}
	if !ProxyActive(config.ProxySettings{Mode: "system"}, getenv) {
		t.Error("system with https_proxy reported inactive")
	}
	if ProxyActive(config.ProxySettings{Mode: "system"}, none) {
		t.Error("system without env reported active")
	}
	if !ProxyActive(config.ProxySettings{Mode: "basic", Host: "h"}, none) {
		t.Error("basic reported inactive")
	}
}
