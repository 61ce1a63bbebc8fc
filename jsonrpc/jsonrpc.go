package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeBulkError is the outcome of a batch in which at least one call failed.
	CodeBulkError = -32002

	// Implementation-defined server errors occupy [CodeServerErrorMin, CodeServerErrorMax].
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

// Version is the protocol version written to and required from every envelope.
const Version = "2.0"

// ErrStreamEnded is returned by HandleRequest when the input holds no request
// at all (zero bytes or only whitespace). A parse-error response has still
// been written to the output when it is returned.
var ErrStreamEnded = errors.New("jsonrpc: stream ended before a request was read")

type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

func NewError(code int, message string) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: message}
}

// rpcMethod holds reflection data for a registered RPC method.
type rpcMethod struct {
	receiver    reflect.Value
	method      reflect.Method
	paramType   reflect.Type
	paramNames  []string // JSON tag names for validation and named params
	paramFields []int    // Field indices for positional params unmarshaling
	methodName  string
}

func (m *rpcMethod) call(ctx context.Context, logger *slog.Logger, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "jsonrpc: method panicked", "method", m.methodName, "panic", r)
			err = NewError(CodeInternalError, "internal error")
		}
	}()

	param := reflect.New(m.paramType)
	if len(params) == 0 {
		params = json.RawMessage("null")
	}

	var paramList []json.RawMessage
	if err := json.Unmarshal(params, &paramList); err == nil {
		// Positional params: array elements map to struct fields by declaration order.
		if len(paramList) != len(m.paramFields) {
			return nil, NewError(CodeInvalidParams, "invalid number of params")
		}
		for i, rawElem := range paramList {
			field := param.Elem().Field(m.paramFields[i])
			if err := json.Unmarshal(rawElem, field.Addr().Interface()); err != nil {
				return nil, NewError(CodeInvalidParams, "invalid params")
			}
		}
	} else {
		// Named params: JSON object keys map to struct fields by json tags.
		var paramMap map[string]json.RawMessage
		if err := json.Unmarshal(params, &paramMap); err != nil {
			return nil, NewError(CodeInvalidParams, "invalid params")
		}
		if err := json.Unmarshal(params, param.Interface()); err != nil {
			return nil, NewError(CodeInvalidParams, "invalid params")
		}
		for _, name := range m.paramNames {
			if _, ok := paramMap[name]; !ok {
				return nil, NewError(CodeInvalidParams, "missing param: "+name)
			}
		}
	}

	results := m.method.Func.Call([]reflect.Value{m.receiver, reflect.ValueOf(ctx), param.Elem()})

	retResult := results[0].Interface()
	var retErr error
	if !results[1].IsNil() {
		retErr = results[1].Interface().(error)
	}
	return retResult, retErr
}

// Dispatcher is a registry of JSON-RPC methods that reads requests from a
// byte stream and writes the serialized responses to another.
//
// Dispatcher is transport-agnostic; see package rpchttp for the HTTP binding.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]*rpcMethod
	logger  *slog.Logger
}

// NewDispatcher creates an empty method registry.
// A nil logger selects slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		methods: make(map[string]*rpcMethod),
		logger:  logger,
	}
}

// Register adds methods from a receiver struct to the dispatcher.
// The namespace prefixes all method names (e.g., "math" + "Add" -> "math.Add").
// Use empty string for no namespace (method names used directly).
// Only exported methods with valid signatures are registered.
func (d *Dispatcher) Register(namespace string, receiver interface{}) {
	val := reflect.ValueOf(receiver)
	typ := val.Type()

	for i := 0; i < val.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}

		handler, methodName := parseMethod(val, method)
		if handler == nil {
			continue
		}

		name := methodName
		if namespace != "" {
			name = namespace + "." + methodName
		}

		d.mu.Lock()
		if _, exists := d.methods[name]; exists {
			d.mu.Unlock()
			panic("jsonrpc: method name collision: " + name)
		}
		d.methods[name] = handler
		d.mu.Unlock()
	}
}

// Methods returns the registered method names.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	return names
}

// HandleRequest reads one request or batch from in, dispatches it, and writes
// the response to out. It returns the outcome code of the call: 0 on success,
// the error code of a failed single call, or CodeBulkError for a batch with
// at least one failure.
//
// Input without any request yields (CodeParseError, ErrStreamEnded). Other
// non-nil errors come from reading in or writing out.
func (d *Dispatcher) HandleRequest(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	body, err := io.ReadAll(in)
	if err != nil {
		return CodeParseError, fmt.Errorf("jsonrpc: read request: %w", err)
	}
	body = bytes.TrimSpace(body)

	if len(body) == 0 {
		if err := encode(out, errorResponse(nil, NewError(CodeParseError, "parse error"))); err != nil {
			return CodeParseError, err
		}
		return CodeParseError, ErrStreamEnded
	}

	if body[0] != '[' {
		resp := d.handleOne(ctx, body)
		if resp == nil {
			return 0, nil
		}
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}
		return code, encode(out, resp)
	}

	var reqs []json.RawMessage
	if err := json.Unmarshal(body, &reqs); err != nil {
		return CodeParseError, encode(out, errorResponse(nil, NewError(CodeParseError, "parse error")))
	}
	if len(reqs) == 0 {
		return CodeInvalidRequest, encode(out, errorResponse(nil, NewError(CodeInvalidRequest, "invalid request")))
	}

	code := 0
	responses := make([]*response, 0, len(reqs))
	for _, rawReq := range reqs {
		resp := d.handleOne(ctx, rawReq)
		if resp == nil {
			continue
		}
		if resp.Error != nil {
			code = CodeBulkError
		}
		responses = append(responses, resp)
	}

	// No responses means all requests were notifications.
	if len(responses) == 0 {
		return 0, nil
	}
	return code, encode(out, responses)
}

// handleOne processes a single request envelope. It returns nil for
// notifications.
func (d *Dispatcher) handleOne(ctx context.Context, raw json.RawMessage) *response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, NewError(CodeParseError, "parse error"))
	}
	if req.JSONRPC != Version {
		return errorResponse(req.ID, NewError(CodeInvalidRequest, "invalid request"))
	}
	if req.Method == "" {
		return errorResponse(req.ID, NewError(CodeInvalidRequest, "method required"))
	}

	// Notification: no id means no response expected.
	if req.ID == nil {
		_, _ = d.invokeMethod(ctx, req.Method, req.Params)
		return nil
	}

	result, err := d.invokeMethod(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(req.ID, mapError(err))
	}
	return &response{JSONRPC: Version, Result: result, ID: req.ID}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type response struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

func errorResponse(id interface{}, err *JSONRPCError) *response {
	return &response{JSONRPC: Version, Error: err, ID: id}
}

// encode writes v as a single line of JSON.
func encode(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("jsonrpc: write response: %w", err)
	}
	return nil
}

// parseMethod extracts method signature information via reflection.
// Valid signature: func(ctx context.Context, params StructType) (result, error)
// Returns nil for invalid signatures.
func parseMethod(receiver reflect.Value, method reflect.Method) (*rpcMethod, string) {
	ft := method.Func.Type()

	if ft.NumIn() != 3 {
		return nil, ""
	}
	if ft.In(1) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		return nil, ""
	}
	if ft.NumOut() != 2 {
		return nil, ""
	}
	if ft.Out(1) != reflect.TypeOf((*error)(nil)).Elem() {
		return nil, ""
	}

	paramType := ft.In(2)
	if paramType.Kind() != reflect.Struct {
		return nil, ""
	}

	rpc := &rpcMethod{
		receiver:   receiver,
		method:     method,
		paramType:  paramType,
		methodName: method.Name,
	}

	for i := 0; i < paramType.NumField(); i++ {
		field := paramType.Field(i)
		if field.Name == "_" {
			if tag := field.Tag.Get("jsonrpc"); tag != "" {
				rpc.methodName = tag
			}
			continue
		}
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "" {
			rpc.paramNames = append(rpc.paramNames, field.Name)
			rpc.paramFields = append(rpc.paramFields, i)
			continue
		}
		name := strings.Split(jsonTag, ",")[0]
		if name == "" || name == "-" {
			continue
		}
		rpc.paramNames = append(rpc.paramNames, name)
		rpc.paramFields = append(rpc.paramFields, i)
	}

	return rpc, rpc.methodName
}

func (d *Dispatcher) invokeMethod(ctx context.Context, name string, params json.RawMessage) (interface{}, error) {
	d.mu.RLock()
	method, ok := d.methods[name]
	d.mu.RUnlock()

	if !ok {
		return nil, NewError(CodeMethodNotFound, "method not found: "+name)
	}

	return method.call(ctx, d.logger, params)
}

// mapError converts any error to a JSON-RPC error.
// JSONRPCError types preserve their code; other errors become InternalError.
func mapError(err error) *JSONRPCError {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &JSONRPCError{
		Code:    CodeInternalError,
		Message: err.Error(),
	}
}
