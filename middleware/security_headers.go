package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/rpcserve/endpoint"
)

// SecurityHeadersProcessor sets response headers suited to a JSON API and,
// when configured, answers CORS requests.
//
// Defaults from NewSecurityHeadersProcessor:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cross-Origin-Resource-Policy: same-origin
//   - Cache-Control: no-store
type SecurityHeadersProcessor struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds; 0
	// disables the header.
	HSTSMaxAge int
	// Headers are set on every response. An empty value disables a header.
	Headers map[string]string
	// CORS is nil when cross-origin requests are not answered.
	CORS *CORSConfig
}

// CORSConfig configures Cross-Origin Resource Sharing.
type CORSConfig struct {
	// AllowedOrigins lists accepted origins; "*" accepts any origin unless
	// AllowCredentials is set.
	AllowedOrigins []string
	// AllowedHeaders are returned on preflight.
	// Default: Accept, Content-Type, Authorization.
	AllowedHeaders []string
	// ExposedHeaders are readable by the calling script.
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long a preflight may be cached, in seconds.
	MaxAge int
}

// corsMethods are the verbs the RPC adapter serves.
const corsMethods = "GET, POST, OPTIONS"

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// NewSecurityHeadersProcessor returns a processor with API defaults.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTSMaxAge: 31536000,
		Headers: map[string]string{
			"Referrer-Policy":              "no-referrer",
			"X-Frame-Options":              "DENY",
			"X-Content-Type-Options":       "nosniff",
			"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
			"Cross-Origin-Resource-Policy": "same-origin",
			"Cache-Control":                "no-store",
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS sets the Strict-Transport-Security max-age; 0 disables it.
func WithHSTS(maxAge int) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTSMaxAge = maxAge
	}
}

// WithHeader sets or, with an empty value, disables a header.
func WithHeader(name, value string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.Headers[http.CanonicalHeaderKey(name)] = value
	}
}

// WithCORS answers cross-origin requests from origins.
func WithCORS(config *CORSConfig) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.CORS = config
	}
}

// Process implements endpoint.Processor. A CORS preflight stops the request
// with 204 No Content.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	for name, value := range p.Headers {
		if value != "" {
			h.Set(name, value)
		}
	}

	if p.CORS != nil && r.Header.Get("Origin") != "" {
		p.CORS.apply(h, r)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}
	return next(w, r)
}

func (c *CORSConfig) apply(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	h.Add("Vary", "Origin")

	switch {
	case slices.Contains(c.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
	case slices.Contains(c.AllowedOrigins, "*") && !c.AllowCredentials:
		// Credentials are never sent to a wildcard origin.
		h.Set("Access-Control-Allow-Origin", "*")
	default:
		return
	}

	if c.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(c.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(c.ExposedHeaders, ", "))
	}
	if r.Method != http.MethodOptions {
		return
	}

	h.Set("Access-Control-Allow-Methods", corsMethods)
	allowed := c.AllowedHeaders
	if len(allowed) == 0 {
		allowed = []string{"Accept", "Content-Type", "Authorization"}
	}
	h.Set("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
	if c.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
	}
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
