// Command rpcserve serves JSON-RPC 2.0 over HTTP.
//
//	rpcserve --config rpcserve.yaml
//
// Routes: the RPC endpoint (default /rpc), /metrics and /healthz.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/mnehpets/rpcserve/config"
	"github.com/mnehpets/rpcserve/endpoint"
	"github.com/mnehpets/rpcserve/jsonrpc"
	"github.com/mnehpets/rpcserve/middleware"
	"github.com/mnehpets/rpcserve/rpchttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "rpcserve",
		Short:         "Serve JSON-RPC 2.0 over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	d := jsonrpc.NewDispatcher(logger)
	registerMethods(d, time.Now())

	processors, err := buildProcessors(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	srv := rpchttp.NewServer(d,
		rpchttp.WithContentType(cfg.ContentType),
		rpchttp.WithLogger(logger),
		rpchttp.WithProcessors(processors...),
	)

	logger.Info("starting rpcserve", "listen", cfg.Listen, "transport", cfg.Transport, "path", cfg.Path, "methods", len(d.Methods()))
	if cfg.Transport == config.TransportFastHTTP {
		return serveFastHTTP(ctx, cfg, srv, d, logger)
	}
	return serveNetHTTP(ctx, cfg, srv, d, logger)
}

// buildProcessors assembles the processor chain in front of the adapter:
// security headers, metrics, rate limit, session, bearer auth.
func buildProcessors(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) ([]endpoint.Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var cors *middleware.CORSConfig
	if len(cfg.CORS.Origins) > 0 {
		cors = &middleware.CORSConfig{AllowedOrigins: cfg.CORS.Origins, AllowCredentials: cfg.SessionEnabled()}
	}
	metrics, err := middleware.NewMetricsProcessor(reg, "rpcserve")
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	processors := []endpoint.Processor{
		middleware.NewSecurityHeadersProcessor(middleware.WithCORS(cors)),
		metrics,
		middleware.NewRateLimitProcessor(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}

	if cfg.SessionEnabled() {
		keys, err := cfg.SessionKeys()
		if err != nil {
			return nil, err
		}
		var opts []middleware.CookieOption
		if cfg.Session.Insecure {
			opts = append(opts, middleware.WithInsecureCookie())
		}
		sealer, err := middleware.NewCookieSealer(middleware.DefaultSessionCookie, cfg.Session.KeyID, keys, opts...)
		if err != nil {
			return nil, err
		}
		sessions, err := middleware.NewSessionProcessor(sealer, middleware.WithSessionLogger(logger))
		if err != nil {
			return nil, err
		}
		processors = append(processors, sessions)
	}

	if cfg.OIDC.Issuer != "" {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
		if err != nil {
			return nil, err
		}
		opts := []middleware.BearerOption{middleware.WithBearerLogger(logger)}
		if cfg.OIDC.Required {
			opts = append(opts, middleware.BearerRequired())
		}
		processors = append(processors, middleware.NewBearerProcessor(verifier, opts...))
	}
	return processors, nil
}

type healthParams struct{}

func healthEndpoint(d *jsonrpc.Dispatcher) endpoint.EndpointFunc[healthParams] {
	return func(_ http.ResponseWriter, _ *http.Request, _ healthParams) (endpoint.Renderer, error) {
		return &endpoint.JSONRenderer{Value: map[string]any{
			"status":  "ok",
			"methods": len(d.Methods()),
		}}, nil
	}
}

func newRouter(cfg *config.Config, srv *rpchttp.Server, d *jsonrpc.Dispatcher) *mux.Router {
	r := mux.NewRouter()
	// Every verb reaches the adapter, which answers unsupported ones itself.
	r.Handle(cfg.Path, srv)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/healthz", endpoint.Handler(healthEndpoint(d))).Methods(http.MethodGet)
	return r
}

func serveNetHTTP(ctx context.Context, cfg *config.Config, srv *rpchttp.Server, d *jsonrpc.Dispatcher, logger *slog.Logger) error {
	hs := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(cfg, srv, d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// fastHandler routes fasthttp requests. The adapter runs its processors on
// this transport as well.
func fastHandler(cfg *config.Config, srv *rpchttp.Server, d *jsonrpc.Dispatcher) fasthttp.RequestHandler {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	health := fasthttpadaptor.NewFastHTTPHandler(endpoint.Handler(healthEndpoint(d)))
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case cfg.Path:
			srv.ServeFastHTTP(ctx)
		case "/metrics":
			metrics(ctx)
		case "/healthz":
			health(ctx)
		default:
			ctx.Error(http.StatusText(http.StatusNotFound), http.StatusNotFound)
		}
	}
}

func serveFastHTTP(ctx context.Context, cfg *config.Config, srv *rpchttp.Server, d *jsonrpc.Dispatcher, logger *slog.Logger) error {
	fs := &fasthttp.Server{
		Handler:     fastHandler(cfg, srv, d),
		Name:        "rpcserve",
		ReadTimeout: 30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- fs.ListenAndServe(cfg.Listen) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := fs.Shutdown(); err != nil {
		return err
	}
	return <-errc
}
