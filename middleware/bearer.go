package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/mnehpets/rpcserve/endpoint"
)

// VerifierOption configures the ID token verifier built by NewOIDCVerifier.
type VerifierOption func(*oidc.Config)

// WithSkipIssuerCheck disables issuer validation, for providers that issue
// tokens with a per-tenant issuer.
func WithSkipIssuerCheck() VerifierOption {
	return func(c *oidc.Config) {
		c.SkipIssuerCheck = true
	}
}

// NewOIDCVerifier discovers issuer and returns a verifier for ID tokens
// issued to clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string, opts ...VerifierOption) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("middleware: query provider %q: %w", issuer, err)
	}
	config := &oidc.Config{ClientID: clientID}
	for _, opt := range opts {
		opt(config)
	}
	return provider.Verifier(config), nil
}

type idTokenKey struct{}

// IDTokenFromContext returns the token verified by BearerProcessor.
func IDTokenFromContext(ctx context.Context) (*oidc.IDToken, bool) {
	tok, ok := ctx.Value(idTokenKey{}).(*oidc.IDToken)
	return tok, ok && tok != nil
}

// BearerProcessor verifies an "Authorization: Bearer" ID token.
//
// A valid token is attached to the request context. When a session is
// present and bound to another subject, it is rebound to the token's
// subject. Invalid tokens are rejected with 401; a missing token is only
// rejected when the processor is required.
type BearerProcessor struct {
	verifier *oidc.IDTokenVerifier
	required bool
	logger   *slog.Logger
}

// BearerOption configures a BearerProcessor.
type BearerOption func(*BearerProcessor)

// BearerRequired rejects requests without a token.
func BearerRequired() BearerOption {
	return func(p *BearerProcessor) {
		p.required = true
	}
}

// WithBearerLogger sets the logger for rejected tokens.
func WithBearerLogger(logger *slog.Logger) BearerOption {
	return func(p *BearerProcessor) {
		p.logger = logger
	}
}

// NewBearerProcessor returns a BearerProcessor using verifier.
func NewBearerProcessor(verifier *oidc.IDTokenVerifier, opts ...BearerOption) *BearerProcessor {
	p := &BearerProcessor{verifier: verifier, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *BearerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		if p.required {
			w.Header().Set("WWW-Authenticate", "Bearer")
			return endpoint.Error(http.StatusUnauthorized, "", nil)
		}
		return next(w, r)
	}

	scheme, raw, ok := strings.Cut(header, " ")
	raw = strings.TrimSpace(raw)
	if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_request"`)
		return endpoint.Error(http.StatusUnauthorized, "", nil)
	}

	tok, err := p.verifier.Verify(r.Context(), raw)
	if err != nil {
		p.logger.InfoContext(r.Context(), "rejected bearer token", "err", err)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		return endpoint.Error(http.StatusUnauthorized, "", err)
	}

	if sess, ok := SessionFromContext(r.Context()); ok {
		if subject, bound := sess.Subject(); !bound || subject != tok.Subject {
			if err := sess.Bind(tok.Subject); err != nil {
				return err
			}
		}
	}
	return next(w, r.WithContext(context.WithValue(r.Context(), idTokenKey{}, tok)))
}

var _ endpoint.Processor = (*BearerProcessor)(nil)
