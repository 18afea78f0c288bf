package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/playpen/internal/config"
)

// SecurityConfig holds the headers applied to every editor response.
// Preview responses replace the CSP and framing headers with the sandbox
// policy.
type SecurityConfig struct {
	CSP            *CSPConfig
	HSTSMaxAge     int
	XFrameOptions  string
	ReferrerPolicy string
	EnableNonce    bool
}

// CSPConfig holds the Content Security Policy of the host page.
type CSPConfig struct {
	DefaultSrc              []string
	ScriptSrc               []string
	StyleSrc                []string
	ImgSrc                  []string
	ConnectSrc              []string
	FrameSrc                []string
	ObjectSrc               []string
	FrameAncestors          []string
	BaseURI                 []string
	FormAction              []string
	UpgradeInsecureRequests bool
}

// DefaultSecurityConfig returns the configuration for local development.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'"},
			StyleSrc:       []string{"'self'"},
			ImgSrc:         []string{"'self'", "data:"},
			ConnectSrc:     []string{"'self'", "ws:", "wss:"},
			FrameSrc:       []string{"'self'"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'none'"},
			BaseURI:        []string{"'self'"},
			FormAction:     []string{"'self'"},
		},
		XFrameOptions:  "DENY",
		ReferrerPolicy: "strict-origin-when-cross-origin",
		EnableNonce:    true,
	}
}

// ProductionSecurityConfig adds HSTS and drops plain ws: connections.
func ProductionSecurityConfig() *SecurityConfig {
	c := DefaultSecurityConfig()
	c.CSP.ConnectSrc = []string{"'self'", "wss:"}
	c.CSP.UpgradeInsecureRequests = true
	c.HSTSMaxAge = 31536000
	return c
}

// SecurityConfigFromAppConfig picks the configuration for the environment.
func SecurityConfigFromAppConfig(cfg *config.Config) *SecurityConfig {
	if cfg.Server.Environment == "production" {
		return ProductionSecurityConfig()
	}
	return DefaultSecurityConfig()
}

// SecurityMiddleware applies the security headers and, when enabled, a
// per-request script nonce that templ components pick up from the context.
func SecurityMiddleware(secConfig *SecurityConfig) func(http.Handler) http.Handler {
	if secConfig == nil {
		secConfig = DefaultSecurityConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var nonce string
			if secConfig.EnableNonce {
				nonce = generateNonce()
				r = r.WithContext(templ.WithNonce(r.Context(), nonce))
			}

			h := w.Header()
			if secConfig.CSP != nil {
				h.Set("Content-Security-Policy", buildCSPHeader(secConfig.CSP, nonce))
			}
			if secConfig.HSTSMaxAge > 0 && r.TLS != nil {
				h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", secConfig.HSTSMaxAge))
			}
			if secConfig.XFrameOptions != "" {
				h.Set("X-Frame-Options", secConfig.XFrameOptions)
			}
			if secConfig.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", secConfig.ReferrerPolicy)
			}
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// buildCSPHeader constructs the Content-Security-Policy header value
func buildCSPHeader(csp *CSPConfig, nonce string) string {
	var directives []string

	addDirective := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
		}
	}

	scriptSrc, styleSrc := csp.ScriptSrc, csp.StyleSrc
	if nonce != "" {
		n := fmt.Sprintf("'nonce-%s'", nonce)
		scriptSrc = append(append([]string{}, scriptSrc...), n)
		styleSrc = append(append([]string{}, styleSrc...), n)
	}

	addDirective("default-src", csp.DefaultSrc)
	addDirective("script-src", scriptSrc)
	addDirective("style-src", styleSrc)
	addDirective("img-src", csp.ImgSrc)
	addDirective("connect-src", csp.ConnectSrc)
	addDirective("frame-src", csp.FrameSrc)
	addDirective("object-src", csp.ObjectSrc)
	addDirective("frame-ancestors", csp.FrameAncestors)
	addDirective("base-uri", csp.BaseURI)
	addDirective("form-action", csp.FormAction)

	if csp.UpgradeInsecureRequests {
		directives = append(directives, "upgrade-insecure-requests")
	}

	return strings.Join(directives, "; ")
}

func generateNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// nonceFrom returns the script nonce of the request, if any.
func nonceFrom(ctx context.Context) string {
	return templ.GetNonce(ctx)
}

// originPatterns turns configured origins into host patterns for the
// WebSocket origin check. The editor's own host is always accepted.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
