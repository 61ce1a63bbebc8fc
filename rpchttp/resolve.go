package rpchttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrInvalidMethod is returned for requests that are neither POST nor GET.
var ErrInvalidMethod = errors.New("rpchttp: invalid request method, only POST and GET is supported")

// Query parameter names of a GET request.
const (
	ParamMethod = "method"
	ParamID     = "id"
	ParamParams = "params"
)

// QueryEncoder builds a request envelope from the query parameters of a GET
// request. A nil pointer is an absent parameter.
type QueryEncoder func(method, id, params *string) ([]byte, error)

// requestStream returns the byte stream to hand to the engine.
func (s *Server) requestStream(req Request) (io.Reader, error) {
	switch req.Method() {
	case http.MethodPost:
		return req.Body()
	case http.MethodGet:
		return s.queryStream(req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, req.Method())
	}
}

// queryStream encodes the GET query triple. With none of the three present
// the stream is empty.
func (s *Server) queryStream(req Request) (io.Reader, error) {
	method := param(req, ParamMethod)
	id := param(req, ParamID)
	params := param(req, ParamParams)
	if method == nil && id == nil && params == nil {
		return bytes.NewReader(nil), nil
	}

	b, err := s.encodeQuery(method, id, params)
	if err != nil {
		return nil, fmt.Errorf("rpchttp: encode query: %w", err)
	}
	return bytes.NewReader(b), nil
}

func param(req Request, name string) *string {
	v, ok := req.Param(name)
	if !ok {
		return nil
	}
	return &v
}
