package rpchttp

import (
	"context"
	"io"
)

// Request is the part of an inbound HTTP request the adapter reads.
type Request interface {
	// Unwrap returns the transport's own request value.
	Unwrap() any
	// Method returns the HTTP verb.
	Method() string
	// Body returns the raw request body.
	Body() (io.Reader, error)
	// Param returns a query parameter. A parameter given with an empty
	// value is present.
	Param(name string) (string, bool)
}

// Response is the part of an HTTP response the adapter writes.
//
// Headers set through SetContentType, SetStatus and SetContentLength are
// sent no later than the first call to Output.
type Response interface {
	SetContentType(contentType string)
	SetStatus(status int)
	SetContentLength(n int)
	Output() (io.Writer, error)
	Flush() error
}

// Engine handles one JSON-RPC request stream.
//
// HandleRequest reads in, writes the response to out and returns the outcome
// code: 0 on success, otherwise a JSON-RPC error code. An error matching
// jsonrpc.ErrStreamEnded reports input that ended before a request was read.
type Engine interface {
	HandleRequest(ctx context.Context, in io.Reader, out io.Writer) (int, error)
}

// EngineFunc adapts a function to an Engine.
type EngineFunc func(ctx context.Context, in io.Reader, out io.Writer) (int, error)

func (f EngineFunc) HandleRequest(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	return f(ctx, in, out)
}
