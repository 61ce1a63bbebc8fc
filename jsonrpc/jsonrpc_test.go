package jsonrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

type mathMethods struct{}

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (m *mathMethods) Add(ctx context.Context, p addParams) (int, error) {
	return p.A + p.B, nil
}

type testMethods struct{}

func (m *testMethods) Echo(ctx context.Context, p struct {
	S string `json:"s"`
}) (string, error) {
	return p.S, nil
}

func (m *testMethods) Fail(ctx context.Context, _ struct{}) (string, error) {
	return "", NewError(-1000, "custom failure")
}

func (m *testMethods) Boom(ctx context.Context, _ struct{}) (string, error) {
	return "", errors.New("plain failure")
}

func (m *testMethods) Panic(ctx context.Context, _ struct{}) (string, error) {
	panic("boom")
}

func (m *testMethods) Lower(ctx context.Context, _ struct {
	_ struct{} `jsonrpc:"lower"`
}) (string, error) {
	return "ok", nil
}

// NotAMethod has the wrong signature and must not be registered.
func (m *testMethods) NotAMethod(s string) string {
	return s
}

type notifyMethods struct {
	called bool
}

func (m *notifyMethods) Ping(ctx context.Context, _ struct{}) (string, error) {
	m.called = true
	return "pong", nil
}

type ctxKey struct{}

type contextMethods struct{}

func (m *contextMethods) Value(ctx context.Context, _ struct{}) (string, error) {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v, nil
}

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher(nil)
	d.Register("math", &mathMethods{})
	d.Register("test", &testMethods{})
	return d
}

func call(t *testing.T, d *Dispatcher, body string) (int, []byte, error) {
	t.Helper()
	var out bytes.Buffer
	code, err := d.HandleRequest(context.Background(), strings.NewReader(body), &out)
	return code, out.Bytes(), err
}

func decodeObject(t *testing.T, b []byte) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("failed to parse response %q: %v", b, err)
	}
	return resp
}

func errorCode(t *testing.T, resp map[string]interface{}) int {
	t.Helper()
	errObj, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	return int(errObj["code"].(float64))
}

func TestHandleRequest_PositionalParams(t *testing.T) {
	code, out, err := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"math.Add","params":[2,3],"id":1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 0 {
		t.Errorf("got code %d, want 0", code)
	}
	resp := decodeObject(t, out)
	if resp["result"].(float64) != 5 {
		t.Errorf("got result %v, want 5", resp["result"])
	}
	if resp["id"].(float64) != 1 {
		t.Errorf("got id %v, want 1", resp["id"])
	}
}

func TestHandleRequest_NamedParams(t *testing.T) {
	code, out, err := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"math.Add","params":{"a":4,"b":5},"id":"x"}`)
	if err != nil || code != 0 {
		t.Fatalf("got code %d err %v", code, err)
	}
	resp := decodeObject(t, out)
	if resp["result"].(float64) != 9 {
		t.Errorf("got result %v, want 9", resp["result"])
	}
	if resp["id"] != "x" {
		t.Errorf("got id %v, want x", resp["id"])
	}
}

func TestHandleRequest_MissingNamedParam(t *testing.T) {
	code, out, _ := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"math.Add","params":{"a":4},"id":1}`)
	if code != CodeInvalidParams {
		t.Errorf("got code %d, want %d", code, CodeInvalidParams)
	}
	if got := errorCode(t, decodeObject(t, out)); got != CodeInvalidParams {
		t.Errorf("got error code %d, want %d", got, CodeInvalidParams)
	}
}

func TestHandleRequest_WrongParamCount(t *testing.T) {
	code, _, _ := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"math.Add","params":[1],"id":1}`)
	if code != CodeInvalidParams {
		t.Errorf("got code %d, want %d", code, CodeInvalidParams)
	}
}

func TestHandleRequest_EmptyInput_StreamEnded(t *testing.T) {
	for _, body := range []string{"", "   \n\t"} {
		code, out, err := call(t, newTestDispatcher(), body)
		if !errors.Is(err, ErrStreamEnded) {
			t.Errorf("body %q: got err %v, want ErrStreamEnded", body, err)
		}
		if code != CodeParseError {
			t.Errorf("body %q: got code %d, want %d", body, code, CodeParseError)
		}
		resp := decodeObject(t, out)
		if got := errorCode(t, resp); got != CodeParseError {
			t.Errorf("body %q: got error code %d, want %d", body, got, CodeParseError)
		}
		if v, ok := resp["id"]; !ok || v != nil {
			t.Errorf("body %q: expected null id, got %v (present=%v)", body, v, ok)
		}
	}
}

func TestHandleRequest_ParseError(t *testing.T) {
	code, out, err := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"test.Echo","params":[invalid json`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != CodeParseError {
		t.Errorf("got code %d, want %d", code, CodeParseError)
	}
	if got := errorCode(t, decodeObject(t, out)); got != CodeParseError {
		t.Errorf("got error code %d, want %d", got, CodeParseError)
	}
}

func TestHandleRequest_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong version", `{"jsonrpc":"1.0","method":"test.Echo","id":1}`},
		{"missing method", `{"jsonrpc":"2.0","id":1}`},
		{"empty batch", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, err := call(t, newTestDispatcher(), tt.body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if code != CodeInvalidRequest {
				t.Errorf("got code %d, want %d", code, CodeInvalidRequest)
			}
			if got := errorCode(t, decodeObject(t, out)); got != CodeInvalidRequest {
				t.Errorf("got error code %d, want %d", got, CodeInvalidRequest)
			}
		})
	}
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	code, out, _ := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"test.Nonexistent","params":[],"id":1}`)
	if code != CodeMethodNotFound {
		t.Errorf("got code %d, want %d", code, CodeMethodNotFound)
	}
	if got := errorCode(t, decodeObject(t, out)); got != CodeMethodNotFound {
		t.Errorf("got error code %d, want %d", got, CodeMethodNotFound)
	}
}

func TestHandleRequest_ErrorMapping(t *testing.T) {
	tests := []struct {
		method   string
		wantCode int
	}{
		{"test.Fail", -1000},
		{"test.Boom", CodeInternalError},
		{"test.Panic", CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			code, out, err := call(t, newTestDispatcher(), `{"jsonrpc":"2.0","method":"`+tt.method+`","params":[],"id":1}`)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("got code %d, want %d", code, tt.wantCode)
			}
			if got := errorCode(t, decodeObject(t, out)); got != tt.wantCode {
				t.Errorf("got error code %d, want %d", got, tt.wantCode)
			}
		})
	}
}

func TestHandleRequest_NotificationWritesNothing(t *testing.T) {
	d := NewDispatcher(nil)
	m := &notifyMethods{}
	d.Register("notify", m)

	code, out, err := call(t, d, `{"jsonrpc":"2.0","method":"notify.Ping","params":[]}`)
	if err != nil || code != 0 {
		t.Fatalf("got code %d err %v", code, err)
	}
	if !m.called {
		t.Error("notification method was not called")
	}
	if len(out) != 0 {
		t.Errorf("expected no output, got %q", out)
	}
}

func TestHandleRequest_Batch(t *testing.T) {
	body := `[
		{"jsonrpc":"2.0","method":"math.Add","params":[1,2],"id":1},
		{"jsonrpc":"2.0","method":"math.Add","params":[3,4],"id":2}
	]`
	code, out, err := call(t, newTestDispatcher(), body)
	if err != nil || code != 0 {
		t.Fatalf("got code %d err %v", code, err)
	}
	var resp []map[string]interface{}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("got %d responses, want 2", len(resp))
	}
	if resp[0]["result"].(float64) != 3 || resp[1]["result"].(float64) != 7 {
		t.Errorf("unexpected results %v", resp)
	}
}

func TestHandleRequest_BatchWithFailureIsBulkError(t *testing.T) {
	body := `[
		{"jsonrpc":"2.0","method":"math.Add","params":[1,2],"id":1},
		{"jsonrpc":"2.0","method":"nope","params":[],"id":2},
		{"jsonrpc":"2.0","method":"math.Add","params":[1,1]}
	]`
	code, out, err := call(t, newTestDispatcher(), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != CodeBulkError {
		t.Errorf("got code %d, want %d", code, CodeBulkError)
	}
	var resp []map[string]interface{}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("got %d responses, want 2 (notification omitted)", len(resp))
	}
}

func TestHandleRequest_ContextPropagation(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register("ctx", &contextMethods{})

	ctx := context.WithValue(context.Background(), ctxKey{}, "test-value")
	var out bytes.Buffer
	if _, err := d.HandleRequest(ctx, strings.NewReader(`{"jsonrpc":"2.0","method":"ctx.Value","id":1}`), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodeObject(t, out.Bytes())["result"]; got != "test-value" {
		t.Errorf("got %v, want test-value", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestHandleRequest_WriteFailure(t *testing.T) {
	_, err := newTestDispatcher().HandleRequest(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","method":"math.Add","params":[1,2],"id":1}`), failingWriter{})
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("got err %v, want io.ErrClosedPipe", err)
	}
}

func TestRegister(t *testing.T) {
	d := newTestDispatcher()
	names := map[string]bool{}
	for _, n := range d.Methods() {
		names[n] = true
	}
	for _, want := range []string{"math.Add", "test.Echo", "test.lower"} {
		if !names[want] {
			t.Errorf("expected %s to be registered, got %v", want, d.Methods())
		}
	}
	if names["test.NotAMethod"] {
		t.Error("method with invalid signature was registered")
	}
}

func TestRegister_CollisionPanics(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register("math", &mathMethods{})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	d.Register("math", &mathMethods{})
}

func TestEncodeQueryRequest(t *testing.T) {
	str := func(s string) *string { return &s }
	b64 := base64.URLEncoding.EncodeToString([]byte(`{"a":1,"b":2}`))

	tests := []struct {
		name               string
		method, id, params *string
		want               string
	}{
		{"all present", str("math.Add"), str("7"), str("[1,2]"), `{"jsonrpc":"2.0","id":7,"method":"math.Add","params":[1,2]}`},
		{"absent id and params", str("system.Ping"), nil, nil, `{"jsonrpc":"2.0","id":null,"method":"system.Ping","params":[]}`},
		{"empty method", str(""), str("1"), nil, `{"jsonrpc":"2.0","id":1,"method":null,"params":[]}`},
		{"object params", str("m"), str(`"a"`), str(`{"x":1}`), `{"jsonrpc":"2.0","id":"a","method":"m","params":{"x":1}}`},
		{"base64 params", str("math.Add"), str("1"), str(b64), `{"jsonrpc":"2.0","id":1,"method":"math.Add","params":{"a":1,"b":2}}`},
		{"quoted method", str(`we"ird`), nil, nil, `{"jsonrpc":"2.0","id":null,"method":"we\"ird","params":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeQueryRequest(tt.method, tt.id, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeQueryRequest_BadParams(t *testing.T) {
	bad := "(1,2)"
	if _, err := EncodeQueryRequest(nil, nil, &bad); err == nil {
		t.Error("expected error for badly formed params")
	}
}

func TestEncodeQueryRequest_RoundTripThroughDispatcher(t *testing.T) {
	method, id, params := "math.Add", "3", "[20,22]"
	req, err := EncodeQueryRequest(&method, &id, &params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code, out, err := call(t, newTestDispatcher(), string(req))
	if err != nil || code != 0 {
		t.Fatalf("got code %d err %v", code, err)
	}
	if got := decodeObject(t, out)["result"].(float64); got != 42 {
		t.Errorf("got %v, want 42", got)
	}
}
