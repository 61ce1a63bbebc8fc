package rpchttp

import (
	"bytes"
	"io"

	"github.com/valyala/fasthttp"
)

// ServeFastHTTP is a fasthttp.RequestHandler for the adapter. With
// processors configured the request goes through ServeHTTP by way of
// fasthttpadaptor, so they run on this transport too.
func (s *Server) ServeFastHTTP(ctx *fasthttp.RequestCtx) {
	if s.fastHandler != nil {
		s.fastHandler(ctx)
		return
	}
	if err := s.Handle(ctx, NewFastHTTPRequest(ctx), NewFastHTTPResponse(ctx)); err != nil {
		s.logger.ErrorContext(ctx, "json-rpc response failed", "method", string(ctx.Method()), "err", err)
	}
}

// NewFastHTTPRequest wraps ctx as a Request.
func NewFastHTTPRequest(ctx *fasthttp.RequestCtx) Request {
	return fastRequest{ctx: ctx}
}

type fastRequest struct {
	ctx *fasthttp.RequestCtx
}

func (f fastRequest) Unwrap() any { return f.ctx }

func (f fastRequest) Method() string { return string(f.ctx.Method()) }

func (f fastRequest) Body() (io.Reader, error) {
	return bytes.NewReader(f.ctx.PostBody()), nil
}

func (f fastRequest) Param(name string) (string, bool) {
	args := f.ctx.QueryArgs()
	if !args.Has(name) {
		return "", false
	}
	return string(args.Peek(name)), true
}

// NewFastHTTPResponse wraps ctx as a Response. fasthttp buffers the whole
// response, so Flush does nothing.
func NewFastHTTPResponse(ctx *fasthttp.RequestCtx) Response {
	return fastResponse{ctx: ctx}
}

type fastResponse struct {
	ctx *fasthttp.RequestCtx
}

func (f fastResponse) SetContentType(contentType string) { f.ctx.SetContentType(contentType) }

func (f fastResponse) SetStatus(status int) { f.ctx.SetStatusCode(status) }

func (f fastResponse) SetContentLength(n int) { f.ctx.Response.Header.SetContentLength(n) }

func (f fastResponse) Output() (io.Writer, error) { return f.ctx, nil }

func (f fastResponse) Flush() error { return nil }
