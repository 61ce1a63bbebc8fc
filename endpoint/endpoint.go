// Package endpoint provides the request pipeline the HTTP transport is built on.
//
// A request passes through three phases:
//
//  1. Process: zero or more Processors run in order. They may attach values
//     to the request context, set headers, or stop the request with an error.
//  2. Endpoint: the EndpointFunc receives the request and a params value
//     decoded from path, query, header and cookie tags (see Unmarshal). It
//     performs the work for the request and returns a Renderer. It does not
//     write to the response.
//  3. Render: the returned Renderer writes status, headers and body.
//
// Renderers in this package:
//   - JSONRenderer: Serializes a value as JSON.
//   - StringRenderer: Writes a plain string.
//   - NoContentRenderer: Writes a status code with no body.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// EndpointError is an error that carries the HTTP status the client sees.
type EndpointError struct {
	Status int
	// Message is the response body; empty means http.StatusText(Status).
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		if msg = http.StatusText(e.Status); msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError. If err already is (or wraps) an
// EndpointError it is returned unchanged.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// StatusOf returns the HTTP status a handler reports for err: the status of
// an EndpointError in its chain, or 500.
func StatusOf(err error) int {
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil && ee.Status >= 100 {
		return ee.Status
	}
	return http.StatusInternalServerError
}

// Renderer writes a response.
//
// A Renderer calls w.WriteHeader (directly or through w.Write) and writes the
// body. A returned error means the response could not be written.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware that runs before the EndpointFunc.
//
// A Processor either calls next or returns an error to stop the request.
// It may set headers, but never writes the status or the body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc handles one request after all processors have run.
//
// params is decoded from the request by Unmarshal. The function does its work
// and returns the Renderer that writes the result; it does not write to w.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler for an EndpointFunc and its processors.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler, inferring P from fn.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc is Handler returning an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

type hooks []func(http.ResponseWriter)

// Defer registers fn to run just before the response headers are written.
// fn must not call WriteHeader.
//
// Outside an EndpointHandler there is no hook registry and Defer does nothing.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if h, ok := ctx.Value(hooksKey{}).(*hooks); ok && h != nil {
		*h = append(*h, fn)
	}
}

// Commit runs the functions registered with Defer, most recent first, and
// clears them. EndpointHandler calls it once before rendering.
func Commit(ctx context.Context, w http.ResponseWriter) {
	h, ok := ctx.Value(hooksKey{}).(*hooks)
	if !ok || h == nil {
		return
	}
	for i := len(*h) - 1; i >= 0; i-- {
		(*h)[i](w)
	}
	*h = nil
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	if r.Context().Value(hooksKey{}) == nil {
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks{}))
	}

	if err := h.run(0, w, r); err != nil {
		writeError(w, r, err)
	}
}

// run calls processor i, handing it a next func that continues with i+1.
// Past the last processor it decodes params, calls the EndpointFunc and
// renders the result.
func (h *EndpointHandler[P]) run(i int, w http.ResponseWriter, r *http.Request) error {
	if i < len(h.Processors) {
		p := h.Processors[i]
		if p == nil {
			return errors.New("endpoint: nil processor")
		}
		return p.Process(w, r, func(w2 http.ResponseWriter, r2 *http.Request) error {
			return h.run(i+1, w2, r2)
		})
	}

	var params P
	if err := Unmarshal(r, &params); err != nil {
		return err
	}
	renderer, err := h.Endpoint(w, r, params)
	if err != nil {
		return err
	}
	if renderer == nil {
		return errors.New("endpoint: nil renderer")
	}
	if c, ok := renderer.(io.Closer); ok {
		defer c.Close()
	}

	Commit(r.Context(), w)
	return renderer.Render(w, r)
}

// writeError renders err as a plain-text response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	message := err.Error()
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	Commit(r.Context(), w)
	http.Error(w, message, status)
}
