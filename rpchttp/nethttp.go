package rpchttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/mnehpets/rpcserve/endpoint"
)

// QueryParams holds the GET query triple. Nil fields were not supplied.
type QueryParams struct {
	Method *string `query:"method" maxLength:""`
	ID     *string `query:"id" maxLength:""`
	Params *string `query:"params" maxLength:""`
}

// Endpoint is the endpoint.EndpointFunc of the adapter. The engine runs here,
// before deferred endpoint hooks are committed; the returned Renderer writes
// the buffered response.
//
// Pass to endpoint.Handler() to mount it behind other processors.
func (s *Server) Endpoint(w http.ResponseWriter, r *http.Request, params QueryParams) (endpoint.Renderer, error) {
	resp := NewHTTPResponse(w)
	resp.SetContentType(s.contentType)
	c := s.invoke(r.Context(), &httpRequest{r: r, query: params, decoded: true})
	return endpoint.RendererFunc(func(w http.ResponseWriter, r *http.Request) error {
		// The status line is out by the time writing fails, so the failure
		// is logged rather than rendered as an error response.
		if err := s.respond(NewHTTPResponse(w), c); err != nil {
			s.logger.ErrorContext(r.Context(), "json-rpc response failed", "method", r.Method, "err", err)
		}
		return nil
	}), nil
}

// ServeHTTP implements http.Handler, running the configured processors
// before Endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// NewHTTPRequest wraps r as a Request.
func NewHTTPRequest(r *http.Request) Request {
	return &httpRequest{r: r}
}

type httpRequest struct {
	r     *http.Request
	query QueryParams
	// decoded is set when query holds the triple decoded by Endpoint; the
	// URL is then not consulted for those names.
	decoded bool
}

func (h *httpRequest) Unwrap() any { return h.r }

func (h *httpRequest) Method() string { return h.r.Method }

func (h *httpRequest) Body() (io.Reader, error) {
	if h.r.Body == nil {
		return http.NoBody, nil
	}
	return h.r.Body, nil
}

func (h *httpRequest) Param(name string) (string, bool) {
	if h.decoded {
		var v *string
		switch name {
		case ParamMethod:
			v = h.query.Method
		case ParamID:
			v = h.query.ID
		case ParamParams:
			v = h.query.Params
		default:
			return h.urlParam(name)
		}
		if v == nil {
			return "", false
		}
		return *v, true
	}
	return h.urlParam(name)
}

func (h *httpRequest) urlParam(name string) (string, bool) {
	if h.r.URL == nil {
		return "", false
	}
	values, ok := h.r.URL.Query()[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// NewHTTPResponse wraps w as a Response. The status line is written by the
// first call to Output.
func NewHTTPResponse(w http.ResponseWriter) Response {
	return &httpResponse{w: w, status: http.StatusOK}
}

type httpResponse struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
}

func (h *httpResponse) SetContentType(contentType string) {
	h.w.Header().Set("Content-Type", contentType)
}

func (h *httpResponse) SetStatus(status int) { h.status = status }

func (h *httpResponse) SetContentLength(n int) {
	h.w.Header().Set("Content-Length", strconv.Itoa(n))
}

func (h *httpResponse) Output() (io.Writer, error) {
	if !h.wroteHeader {
		h.wroteHeader = true
		h.w.WriteHeader(h.status)
	}
	return h.w, nil
}

func (h *httpResponse) Flush() error {
	err := http.NewResponseController(h.w).Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
