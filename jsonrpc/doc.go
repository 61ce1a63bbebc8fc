// Package jsonrpc provides a transport-agnostic JSON-RPC 2.0 dispatcher.
//
// This package implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification).
// A Dispatcher consumes a request byte stream and produces a response byte
// stream; package rpchttp binds it to HTTP.
//
// # Basic Usage
//
// Create a dispatcher, register methods, and serve it over HTTP:
//
//	d := jsonrpc.NewDispatcher(nil)
//	d.Register("math", &MathMethods{})
//	http.Handle("/rpc", rpchttp.NewServer(d))
//
// Methods are defined on a struct with a params type:
//
//	type MathMethods struct{}
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
//	func (m *MathMethods) Add(ctx context.Context, params AddParams) (int, error) {
//	    return params.A + params.B, nil
//	}
//
// # Method Signatures
//
// Methods must have this signature:
//
//	func(ctx context.Context, params <StructType>) (result, error)
//
// The params struct uses json tags to define parameter names. Use an empty
// struct for methods with no parameters:
//
//	func (m *Methods) Ping(ctx context.Context, params struct{}) (string, error)
//
// Methods support both positional (array) and named (object) parameters.
//
// # Namespaces
//
// The namespace prefixes method names. Use empty string for no prefix:
//
//	d.Register("math", &MathMethods{})  // -> "math.Add"
//	d.Register("", &MathMethods{})      // -> "Add"
//
// # Method Name Override
//
// Use a `_` field with a `jsonrpc` tag to override the method name:
//
//	type AddParams struct {
//	    _ struct{} `jsonrpc:"add"`  // method name becomes lowercase "add"
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
// # Outcome Codes
//
// HandleRequest returns an outcome code alongside the response bytes. It is
// 0 when every call succeeded (or the input held only notifications), the
// error code of a failed single call, and CodeBulkError for a batch in which
// any call failed. Transports map it to their own status codes.
//
// Return JSONRPCError for protocol-level errors:
//
//	return 0, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "division by zero")
//
// Other errors are reported as CodeInternalError.
//
// # GET Requests
//
// EncodeQueryRequest turns the "method", "id" and "params" query parameters
// of a GET request into an equivalent request envelope.
package jsonrpc
