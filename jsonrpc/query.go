package jsonrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// base64Params matches a params value carried in (URL-safe) base64 form.
var base64Params = regexp.MustCompile(`^[A-Za-z0-9_=-]+$`)

// EncodeQueryRequest builds a request envelope from the values of the
// "method", "id" and "params" query parameters of a GET request. A nil or
// empty value is absent.
//
// The id is copied verbatim and is expected to be a JSON number or string
// literal. params may be raw JSON (starting with '[' or '{') or base64
// encoded JSON; absent params become an empty positional list.
//
// The values are not validated; a malformed envelope is rejected by
// HandleRequest like any other.
func EncodeQueryRequest(method, id, params *string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"jsonrpc":"` + Version + `","id":`)
	if v := deref(id); v != "" {
		buf.WriteString(v)
	} else {
		buf.WriteString("null")
	}

	buf.WriteString(`,"method":`)
	if v := deref(method); v != "" {
		quoted, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("jsonrpc: encode method: %w", err)
		}
		buf.Write(quoted)
	} else {
		buf.WriteString("null")
	}

	buf.WriteString(`,"params":`)
	if v := deref(params); v != "" {
		decoded, err := decodeQueryParams(v)
		if err != nil {
			return nil, err
		}
		buf.WriteString(decoded)
	} else {
		buf.WriteString("[]")
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeQueryParams accepts both the base64 and the plain JSON conventions
// for the params query parameter.
func decodeQueryParams(v string) (string, error) {
	if base64Params.MatchString(v) {
		b, err := base64.URLEncoding.DecodeString(v)
		if err != nil {
			b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
		}
		if err != nil {
			return "", fmt.Errorf("jsonrpc: badly formed 'params' parameter: %w", err)
		}
		return string(b), nil
	}
	switch v[0] {
	case '[', '{':
		return v, nil
	}
	return "", fmt.Errorf("jsonrpc: badly formed 'params' parameter starting with %q", v[0])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
