package rpchttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/mnehpets/rpcserve/endpoint"
	"github.com/mnehpets/rpcserve/jsonrpc"
)

var errEnginePanic = errors.New("rpchttp: engine panicked")

// DefaultContentType is the media type of JSON-RPC responses.
const DefaultContentType = "application/json-rpc"

// Server adapts an Engine to HTTP. Its configuration is fixed by NewServer,
// so one Server may serve concurrent requests.
type Server struct {
	engine      Engine
	contentType string
	status      StatusCodeProvider
	logger      *slog.Logger
	encodeQuery QueryEncoder
	processors  []endpoint.Processor

	handler     http.Handler
	fastHandler fasthttp.RequestHandler
}

// Option configures a Server.
type Option func(*Server)

// WithContentType sets the response Content-Type.
func WithContentType(contentType string) Option {
	return func(s *Server) {
		s.contentType = contentType
	}
}

// WithStatusCodeProvider replaces DefaultStatusCodeProvider.
func WithStatusCodeProvider(p StatusCodeProvider) Option {
	return func(s *Server) {
		s.status = p
	}
}

// WithLogger sets the logger for absorbed engine failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithQueryEncoder replaces jsonrpc.EncodeQueryRequest for GET requests.
func WithQueryEncoder(enc QueryEncoder) Option {
	return func(s *Server) {
		s.encodeQuery = enc
	}
}

// WithProcessors sets the endpoint processors that run before the adapter.
// ServeFastHTTP runs them through fasthttpadaptor.
func WithProcessors(processors ...endpoint.Processor) Option {
	return func(s *Server) {
		s.processors = append(s.processors, processors...)
	}
}

// NewServer returns a Server for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:      engine,
		contentType: DefaultContentType,
		status:      DefaultStatusCodeProvider,
		logger:      slog.Default(),
		encodeQuery: jsonrpc.EncodeQueryRequest,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.status == nil {
		s.status = DefaultStatusCodeProvider
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.encodeQuery == nil {
		s.encodeQuery = jsonrpc.EncodeQueryRequest
	}
	s.handler = endpoint.Handler(s.Endpoint, s.processors...)
	if len(s.processors) > 0 {
		s.fastHandler = fasthttpadaptor.NewFastHTTPHandler(s.handler)
	}
	return s
}

// ContentType returns the configured response Content-Type.
func (s *Server) ContentType() string {
	return s.contentType
}

// call is the buffered result of one engine call.
type call struct {
	status int
	body   *bytes.Buffer
}

// Handle runs one full call cycle for req and writes the result to resp.
// The returned error is always a failure to write the response.
func (s *Server) Handle(ctx context.Context, req Request, resp Response) error {
	resp.SetContentType(s.contentType)
	return s.respond(resp, s.invoke(ctx, req))
}

// invoke resolves the request stream and runs the engine into a fresh
// buffer. Failures are logged and leave the outcome at CodeParseError.
func (s *Server) invoke(ctx context.Context, req Request) *call {
	c := &call{body: new(bytes.Buffer)}

	code := jsonrpc.CodeParseError
	in, err := s.requestStream(req)
	if err == nil {
		var outcome int
		if outcome, err = s.runEngine(ctx, in, c.body); err == nil {
			code = outcome
		}
	}
	if err != nil {
		s.logFailure(ctx, req, err)
	}

	c.status = s.status.HTTPStatus(code)
	return c
}

// runEngine calls the engine, turning a panic into an error. Partial output
// of a panicking engine is discarded.
func (s *Server) runEngine(ctx context.Context, in io.Reader, out *bytes.Buffer) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			out.Reset()
			code, err = jsonrpc.CodeParseError, fmt.Errorf("%w: %v", errEnginePanic, r)
		}
	}()
	return s.engine.HandleRequest(ctx, in, out)
}

func (s *Server) logFailure(ctx context.Context, req Request, err error) {
	if errors.Is(err, jsonrpc.ErrStreamEnded) {
		s.logger.DebugContext(ctx, "json-rpc request stream ended", "method", req.Method(), "err", err)
		return
	}
	s.logger.ErrorContext(ctx, "json-rpc request failed", "method", req.Method(), "err", err)
}

// respond writes status, Content-Length and the buffered body, then
// flushes. Nothing reaches the output before the buffer is complete.
func (s *Server) respond(resp Response, c *call) error {
	resp.SetStatus(c.status)
	resp.SetContentLength(c.body.Len())

	out, err := resp.Output()
	if err != nil {
		return fmt.Errorf("rpchttp: open response: %w", err)
	}
	if _, err := c.body.WriteTo(out); err != nil {
		return fmt.Errorf("rpchttp: write response: %w", err)
	}
	if err := resp.Flush(); err != nil {
		return fmt.Errorf("rpchttp: flush response: %w", err)
	}
	return nil
}
