package endpoint

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds a single decoded value unless the field carries a
// maxLength tag.
var defaultFieldLimit = 16 * 1024 // 16KB

// sources lists the supported tag keys in precedence order.
var sources = []string{"path", "query", "header", "cookie"}

// Unmarshal populates dst (a non-nil pointer to a struct, or to a pointer to
// a struct) from the request.
//
// Supported struct tags:
//   - `path:"name[,json]"`   r.PathValue(name)
//   - `query:"name[,json]"`  r.URL.Query()
//   - `header:"name[,json]"` r.Header (name is canonicalized)
//   - `cookie:"name[,json]"` r.Cookies()
//   - `query:"-"` (any source) skips the field
//   - `maxLength:"n"` bounds each value; the default is 16KB, empty or "0"
//     means no limit. Longer values are rejected with 400.
//
// An empty name defaults to the lower-cased field name. Untagged scalar
// fields are read from path then query; untagged struct fields are decoded
// recursively. When several sources are tagged the first one present wins.
//
// Pointer fields stay nil when no source carries a value, so a *string
// distinguishes an absent parameter from an empty one. Slice fields receive
// every value of a repeated parameter.
//
// Unmarshal never reads the request body.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}

	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}

	return decodeStruct(newValueSource(r), root)
}

// valueSource resolves (source, name) pairs against one request.
type valueSource struct {
	r     *http.Request
	query map[string][]string
}

func newValueSource(r *http.Request) *valueSource {
	vs := &valueSource{r: r, query: map[string][]string{}}
	if r.URL != nil {
		vs.query = r.URL.Query()
	}
	return vs
}

func (vs *valueSource) lookup(source, name string) ([]string, bool) {
	var values []string
	switch source {
	case "path":
		if v := vs.r.PathValue(name); v != "" {
			values = []string{v}
		}
	case "query":
		values = vs.query[name]
	case "header":
		values = vs.r.Header[http.CanonicalHeaderKey(name)]
	case "cookie":
		for _, c := range vs.r.Cookies() {
			if c.Name == name {
				values = append(values, c.Value)
			}
		}
	}
	return values, len(values) > 0
}

type fieldTag struct {
	source string
	name   string
	asJSON bool
}

func decodeStruct(vs *valueSource, sv reflect.Value) error {
	t := sv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		tags, skip, err := fieldTags(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if skip {
			continue
		}

		if len(tags) == 0 {
			if nested, ok := nestedStruct(fv); ok {
				if err := decodeStruct(vs, nested); err != nil {
					return err
				}
				continue
			}
			name := strings.ToLower(sf.Name)
			tags = []fieldTag{{source: "path", name: name}, {source: "query", name: name}}
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return err
		}

		for _, tag := range tags {
			values, ok := vs.lookup(tag.source, tag.name)
			if !ok {
				continue
			}
			for _, val := range values {
				if limit > 0 && len(val) > limit {
					return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.source, tag.name, sf.Name, limit))
				}
			}
			if err := setField(fv, values, tag.asJSON); err != nil {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.source, tag.name, sf.Name, err))
			}
			break
		}
	}
	return nil
}

// fieldTags returns the source tags of sf in precedence order. skip reports a
// "-" name on any source.
func fieldTags(sf reflect.StructField) (tags []fieldTag, skip bool, err error) {
	for _, source := range sources {
		val, ok := sf.Tag.Lookup(source)
		if !ok {
			continue
		}
		name, flags, _ := strings.Cut(val, ",")
		name = strings.TrimSpace(name)
		if name == "-" {
			return nil, true, nil
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		tag := fieldTag{source: source, name: name}
		for _, flag := range strings.Split(flags, ",") {
			switch strings.ToLower(strings.TrimSpace(flag)) {
			case "":
			case "json":
				tag.asJSON = true
			default:
				return nil, false, fmt.Errorf("unknown %s tag flag %q", source, flag)
			}
		}
		tags = append(tags, tag)
	}
	return tags, false, nil
}

// nestedStruct reports whether an untagged field should be decoded
// recursively, allocating nil struct pointers.
func nestedStruct(fv reflect.Value) (reflect.Value, bool) {
	ft := fv.Type()
	if ft.Kind() == reflect.Pointer {
		ft = ft.Elem()
	}
	if ft.Kind() != reflect.Struct || reflect.PointerTo(ft).Implements(textUnmarshalerType) {
		return reflect.Value{}, false
	}
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(ft))
		}
		fv = fv.Elem()
	}
	return fv, true
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: invalid maxLength %q", sf.Name, val))
	}
	return n, nil
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// setField stores values into v. Slices take every value; everything else
// takes the first.
func setField(v reflect.Value, values []string, asJSON bool) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	if asJSON {
		return json.Unmarshal([]byte(values[0]), v.Addr().Interface())
	}

	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		slice := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, s := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setScalar(elem, s); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		v.Set(slice)
		return nil
	}
	return setScalar(v, values[0])
}

func setScalar(v reflect.Value, s string) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return setScalar(v.Elem(), s)
	}
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Slice:
		v.SetBytes([]byte(s))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
