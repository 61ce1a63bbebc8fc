// Package rpchttp serves a JSON-RPC engine over HTTP.
//
// A Server turns one HTTP exchange into one call of an Engine: it picks the
// request byte stream by verb, runs the engine into a per-call buffer, maps
// the engine's outcome code to an HTTP status and writes the buffered
// response with an exact Content-Length.
//
//	d := jsonrpc.NewDispatcher(logger)
//	d.Register("math", &MathMethods{})
//	srv := rpchttp.NewServer(d, rpchttp.WithLogger(logger))
//	http.Handle("/rpc", srv)                // net/http
//	fasthttp.ListenAndServe(":8080", srv.ServeFastHTTP)
//
// # Verbs
//
// POST sends the request body to the engine unchanged. GET builds a request
// from the "method", "id" and "params" query parameters (see
// jsonrpc.EncodeQueryRequest); a GET without any of them sends zero bytes.
// Any other verb fails before the engine is called and is answered with the
// status mapped from the parse error code.
//
// # Failures
//
// Engine failures never reach the transport. A request stream that ended
// before a request was read is logged at debug level; anything else is
// logged at error level. Both answer with the parse error status. Only I/O
// errors while writing the response are returned.
//
// # Transports
//
// The adapter depends on two small capability sets, Request and Response.
// The net/http binding runs as an endpoint.EndpointFunc, so endpoint
// processors (sessions, auth, rate limits, metrics) can run in front of it.
// The fasthttp binding calls Handle directly, or, when processors are
// configured, serves through fasthttpadaptor so the same processors apply.
package rpchttp
