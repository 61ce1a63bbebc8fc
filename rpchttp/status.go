package rpchttp

import (
	"net/http"

	"github.com/mnehpets/rpcserve/jsonrpc"
)

// StatusCodeProvider maps an engine outcome code to an HTTP status.
// Implementations must be pure and safe for concurrent use.
type StatusCodeProvider interface {
	HTTPStatus(code int) int
}

// StatusCodeProviderFunc adapts a function to a StatusCodeProvider.
type StatusCodeProviderFunc func(code int) int

func (f StatusCodeProviderFunc) HTTPStatus(code int) int {
	return f(code)
}

// DefaultStatusCodeProvider is used when no provider is configured.
//
//	0                    200 OK
//	invalid request      400 Bad Request
//	method not found     404 Not Found
//	anything else        500 Internal Server Error
var DefaultStatusCodeProvider StatusCodeProvider = StatusCodeProviderFunc(defaultHTTPStatus)

func defaultHTTPStatus(code int) int {
	switch code {
	case 0:
		return http.StatusOK
	case jsonrpc.CodeInvalidRequest:
		return http.StatusBadRequest
	case jsonrpc.CodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
