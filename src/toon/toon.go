// Package toon renders values in a compact, indentation-based text form used
// for tool results sent back to the model and for terminal listings.
//
// Objects print one "key: value" per line. Lists carry their length in the
// header, and a list of flat records that share the same fields collapses to
// a single header naming the fields followed by one delimited row per record:
//
//	count: 2
//	products[2]{name,brand,price}:
//	  HydraGlow Cream,Aqua Labs,449
//	  Night Serum,Lumi,899
//
// Struct fields follow their json tags, including omitempty. Map keys are
// sorted so the output is stable.
package toon

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type Option func(*encoder)

// WithIndent sets the per-level indentation. The default is two spaces.
func WithIndent(indent string) Option {
	return func(e *encoder) { e.indent = indent }
}

// WithDelimiter sets the separator of inline lists and table rows.
func WithDelimiter(delim string) Option {
	return func(e *encoder) {
		if delim != "" {
			e.delim = delim
		}
	}
}

type encoder struct {
	b      strings.Builder
	indent string
	delim  string
}

type field struct {
	key string
	val reflect.Value
}

type shape int

const (
	shapeScalar shape = iota
	shapeObject
	shapeList
)

// Encode renders v. Channels, funcs and complex numbers are rejected.
func Encode(v any, opts ...Option) (string, error) {
	e := &encoder{indent: "  ", delim: ","}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	rv, err := normalize(reflect.ValueOf(v))
	if err != nil {
		return "", err
	}
	if err := e.value(rv, 0); err != nil {
		return "", err
	}
	return strings.TrimRight(e.b.String(), "\n"), nil
}

func (e *encoder) value(v reflect.Value, depth int) error {
	switch shapeOf(v) {
	case shapeObject:
		fields, err := e.fields(v)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			e.line(depth, "{}")
			return nil
		}
		return e.object(fields, depth)
	case shapeList:
		return e.list("", "", v, depth)
	default:
		s, err := e.scalar(v)
		if err != nil {
			return err
		}
		e.line(depth, s)
		return nil
	}
}

func (e *encoder) object(fields []field, depth int) error {
	for _, f := range fields {
		key := encodeKey(f.key)
		switch shapeOf(f.val) {
		case shapeScalar:
			s, err := e.scalar(f.val)
			if err != nil {
				return err
			}
			e.line(depth, key+": "+s)
		case shapeObject:
			sub, err := e.fields(f.val)
			if err != nil {
				return err
			}
			if len(sub) == 0 {
				e.line(depth, key+": {}")
				continue
			}
			e.line(depth, key+":")
			if err := e.object(sub, depth+1); err != nil {
				return err
			}
		case shapeList:
			if err := e.list("", key, f.val, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// list writes a list header at depth, prefixed by lead, then its items.
func (e *encoder) list(lead, key string, v reflect.Value, depth int) error {
	items := make([]reflect.Value, v.Len())
	for i := range items {
		item, err := normalize(v.Index(i))
		if err != nil {
			return err
		}
		items[i] = item
	}
	header := fmt.Sprintf("%s%s[%d]", lead, key, len(items))
	if len(items) == 0 {
		e.line(depth, header+":")
		return nil
	}

	if allScalars(items) {
		cells, err := e.cells(items)
		if err != nil {
			return err
		}
		e.line(depth, header+": "+strings.Join(cells, e.delim))
		return nil
	}

	if cols, rows, ok, err := e.table(items); err != nil {
		return err
	} else if ok {
		keys := make([]string, len(cols))
		for i, c := range cols {
			keys[i] = encodeKey(c)
		}
		e.line(depth, header+"{"+strings.Join(keys, e.delim)+"}:")
		for _, row := range rows {
			cells, err := e.cells(row)
			if err != nil {
				return err
			}
			e.line(depth+1, strings.Join(cells, e.delim))
		}
		return nil
	}

	e.line(depth, header+":")
	for _, item := range items {
		switch shapeOf(item) {
		case shapeScalar:
			s, err := e.scalar(item)
			if err != nil {
				return err
			}
			e.line(depth+1, "- "+s)
		case shapeObject:
			fields, err := e.fields(item)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				e.line(depth+1, "- {}")
				continue
			}
			e.line(depth+1, "-")
			if err := e.object(fields, depth+2); err != nil {
				return err
			}
		case shapeList:
			if err := e.list("- ", "", item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// table reports whether items are records with identical keys and scalar
// values only, and returns their columns and rows.
func (e *encoder) table(items []reflect.Value) ([]string, [][]reflect.Value, bool, error) {
	var cols []string
	rows := make([][]reflect.Value, 0, len(items))
	for i, item := range items {
		if shapeOf(item) != shapeObject {
			return nil, nil, false, nil
		}
		fields, err := e.fields(item)
		if err != nil {
			return nil, nil, false, err
		}
		if len(fields) == 0 {
			return nil, nil, false, nil
		}
		if i == 0 {
			cols = make([]string, len(fields))
			for j, f := range fields {
				cols[j] = f.key
			}
		} else if len(fields) != len(cols) {
			return nil, nil, false, nil
		}
		row := make([]reflect.Value, len(fields))
		for j, f := range fields {
			if f.key != cols[j] || shapeOf(f.val) != shapeScalar {
				return nil, nil, false, nil
			}
			row[j] = f.val
		}
		rows = append(rows, row)
	}
	return cols, rows, true, nil
}

func (e *encoder) cells(vals []reflect.Value) ([]string, error) {
	out := make([]string, len(vals))
	for i, v := range vals {
		s, err := e.scalar(v)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (e *encoder) fields(v reflect.Value) ([]field, error) {
	if v.Kind() == reflect.Map {
		out := make([]field, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, err := normalize(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, field{key: fmt.Sprint(iter.Key().Interface()), val: val})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
		return out, nil
	}
	return structFields(v)
}

func structFields(v reflect.Value) ([]field, error) {
	t := v.Type()
	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		fv := v.Field(i)
		if sf.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				embedded, err := structFields(inner)
				if err != nil {
					return nil, err
				}
				out = append(out, embedded...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if strings.Contains(","+opts+",", ",omitempty,") && isEmpty(fv) {
			continue
		}
		val, err := normalize(fv)
		if err != nil {
			return nil, err
		}
		out = append(out, field{key: name, val: val})
	}
	return out, nil
}

func (e *encoder) scalar(v reflect.Value) (string, error) {
	if !v.IsValid() {
		return "null", nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "null", nil
		}
		bits := 64
		if v.Kind() == reflect.Float32 {
			bits = 32
		}
		return strconv.FormatFloat(f, 'f', -1, bits), nil
	case reflect.String:
		return e.quote(v.String()), nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return "null", nil
		}
		if isBytes(v) {
			return e.quote(base64.StdEncoding.EncodeToString(bytesOf(v))), nil
		}
	}
	return "", fmt.Errorf("toon: unsupported kind %s", v.Kind())
}

// quote leaves a string bare unless it could be misread as another type or
// would break the line structure.
func (e *encoder) quote(s string) string {
	switch {
	case s == "", s == "true", s == "false", s == "null",
		strings.TrimSpace(s) != s,
		strings.HasPrefix(s, "- "),
		strings.Contains(s, e.delim),
		strings.ContainsAny(s, ":\"\\[]{}\n\r\t"):
		return strconv.Quote(s)
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.Quote(s)
	}
	return s
}

func encodeKey(k string) string {
	if k == "" || (k[0] >= '0' && k[0] <= '9') {
		return strconv.Quote(k)
	}
	for _, r := range k {
		if !(r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return strconv.Quote(k)
		}
	}
	return k
}

func (e *encoder) line(depth int, s string) {
	for i := 0; i < depth; i++ {
		e.b.WriteString(e.indent)
	}
	e.b.WriteString(s)
	e.b.WriteByte('\n')
}

// normalize unwraps pointers and interfaces and resolves json and text
// marshalers. A nil result is the invalid Value, printed as null.
func normalize(v reflect.Value) (reflect.Value, error) {
	for v.IsValid() {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return reflect.Value{}, nil
		}
		if v.CanInterface() {
			switch m := v.Interface().(type) {
			case json.Marshaler:
				data, err := m.MarshalJSON()
				if err != nil {
					return reflect.Value{}, fmt.Errorf("toon: %w", err)
				}
				var decoded any
				if err := jsonAPI.Unmarshal(data, &decoded); err != nil {
					return reflect.Value{}, fmt.Errorf("toon: %w", err)
				}
				return reflect.ValueOf(decoded), nil
			case encoding.TextMarshaler:
				text, err := m.MarshalText()
				if err != nil {
					return reflect.Value{}, fmt.Errorf("toon: %w", err)
				}
				return reflect.ValueOf(string(text)), nil
			}
		}
		if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface {
			return v, nil
		}
		v = v.Elem()
	}
	return v, nil
}

func shapeOf(v reflect.Value) shape {
	if !v.IsValid() {
		return shapeScalar
	}
	switch v.Kind() {
	case reflect.Map, reflect.Struct:
		return shapeObject
	case reflect.Slice, reflect.Array:
		if isBytes(v) {
			return shapeScalar
		}
		if v.Kind() == reflect.Slice && v.IsNil() {
			return shapeScalar
		}
		return shapeList
	}
	return shapeScalar
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.String, reflect.Array:
		return v.Len() == 0
	}
	return v.IsZero()
}

func allScalars(items []reflect.Value) bool {
	for _, item := range items {
		if shapeOf(item) != shapeScalar {
			return false
		}
	}
	return true
}

func isBytes(v reflect.Value) bool {
	return v.Type().Elem().Kind() == reflect.Uint8
}

func bytesOf(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice {
		return v.Bytes()
	}
	out := make([]byte, v.Len())
	reflect.Copy(reflect.ValueOf(out), v)
	return out
}
