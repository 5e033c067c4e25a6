package codec

import (
	"encoding"
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"logship/internal/model"

	json "github.com/goccy/go-json"
)

// ---------------------------------------------------------------
// walker: 임의의 Go 값 → model.Value 정규화
//
// 규칙
//   - 조상(ancestor) 집합에 이미 있는 pointer/map/slice 를 다시 만나면
//     순환으로 보고 해당 멤버를 생략한다 (loop handling: ignore)
//   - 조상 집합이라 형제끼리 같은 값을 공유하는 것은 순환이 아니다
//   - func/chan/complex/NaN/Inf 등 JSON 으로 표현 불가한 값은 Opaque(생략)
//   - MarshalJSON/MarshalText/Error 가 panic 하거나 실패하면 Opaque
//   - converter 실패만 에러로 전파 (문서 전체 실패)
// ---------------------------------------------------------------

const maxDepth = 32

type refKey struct {
	ptr uintptr
	typ reflect.Type
}

type walker struct {
	converters []Converter
	ancestors  map[refKey]struct{}
	depth      int
}

func newWalker(cs []Converter) *walker {
	return &walker{converters: cs, ancestors: make(map[refKey]struct{})}
}

var (
	propertiesType = reflect.TypeOf((*model.Properties)(nil))
	marshalerType  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textType       = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
)

// properties 는 최상위 property bag 을 object 로 만든다.
func (w *walker) properties(p *model.Properties) (model.Value, error) {
	key := refKey{ptr: reflect.ValueOf(p).Pointer(), typ: propertiesType}
	w.ancestors[key] = struct{}{}
	defer delete(w.ancestors, key)

	fields := make([]model.Field, 0, p.Len())
	var err error
	p.Range(func(k string, v any) bool {
		var val model.Value
		val, err = w.value(v)
		if err != nil {
			return false
		}
		fields = append(fields, model.Field{Key: k, Value: val})
		return true
	})
	if err != nil {
		return model.Value{}, err
	}
	return model.ObjectValue(fields), nil
}

func (w *walker) value(v any) (model.Value, error) {
	if w.depth >= maxDepth {
		return model.OpaqueValue(), nil
	}
	w.depth++
	defer func() { w.depth-- }()

	if v != nil && len(w.converters) > 0 {
		converted, ok, err := w.convert(v)
		if err != nil {
			return model.Value{}, err
		}
		if ok {
			v = converted
		}
	}

	switch t := v.(type) {
	case nil:
		return model.NullValue(), nil
	case string:
		return model.StringValue(t), nil
	case bool:
		return model.BoolValue(t), nil
	case int:
		return model.NumberValue(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return model.NumberValue(strconv.FormatInt(t, 10)), nil
	case int32:
		return model.NumberValue(strconv.FormatInt(int64(t), 10)), nil
	case uint64:
		return model.NumberValue(strconv.FormatUint(t, 10)), nil
	case float64:
		return floatValue(t, 64), nil
	case float32:
		return floatValue(float64(t), 32), nil
	case json.Number:
		if !validNumber(string(t)) {
			return model.OpaqueValue(), nil
		}
		return model.NumberValue(string(t)), nil
	case time.Duration:
		return model.StringValue(t.String()), nil
	case []byte:
		return model.StringValue(base64.StdEncoding.EncodeToString(t)), nil
	case model.Value:
		return t, nil
	case *model.Properties:
		if t == nil {
			return model.NullValue(), nil
		}
		key := refKey{ptr: reflect.ValueOf(t).Pointer(), typ: propertiesType}
		if _, loop := w.ancestors[key]; loop {
			return model.OpaqueValue(), nil
		}
		return w.properties(t)
	}

	return w.reflectValue(reflect.ValueOf(v))
}

// convert 는 첫 번째로 CanConvert 가 true 인 converter 를 적용한다.
func (w *walker) convert(v any) (out any, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %T: panic: %v", ErrConverter, v, r)
		}
	}()
	for _, c := range w.converters {
		if !c.CanConvert(v) {
			continue
		}
		out, err = c.Convert(v)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %T: %w", ErrConverter, v, err)
		}
		return out, true, nil
	}
	return nil, false, nil
}

func (w *walker) reflectValue(rv reflect.Value) (model.Value, error) {
	if !rv.IsValid() {
		return model.NullValue(), nil
	}

	// nil pointer/interface/map/slice
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return model.NullValue(), nil
		}
	}

	// 순환 체크는 Marshaler 호출보다 먼저 (자기참조 MarshalJSON 방지)
	if key, ok := refOf(rv); ok {
		if _, loop := w.ancestors[key]; loop {
			return model.OpaqueValue(), nil
		}
		w.ancestors[key] = struct{}{}
		defer delete(w.ancestors, key)
	}

	if v, ok := w.viaInterfaces(rv); ok {
		return v, nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return w.value(rv.Elem().Interface())

	case reflect.String:
		return model.StringValue(rv.String()), nil
	case reflect.Bool:
		return model.BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return model.NumberValue(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return model.NumberValue(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32:
		return floatValue(rv.Float(), 32), nil
	case reflect.Float64:
		return floatValue(rv.Float(), 64), nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return model.StringValue(base64.StdEncoding.EncodeToString(rv.Bytes())), nil
		}
		items := make([]model.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := w.elem(rv.Index(i))
			if err != nil {
				return model.Value{}, err
			}
			items = append(items, item)
		}
		return model.ListValue(items), nil

	case reflect.Map:
		return w.mapValue(rv)

	case reflect.Struct:
		return w.structValue(rv)
	}

	// func, chan, complex, unsafe pointer
	return model.OpaqueValue(), nil
}

func (w *walker) elem(rv reflect.Value) (model.Value, error) {
	if !rv.CanInterface() {
		return model.OpaqueValue(), nil
	}
	return w.value(rv.Interface())
}

// viaInterfaces 는 json.Marshaler / encoding.TextMarshaler / error 를 처리한다.
// 해당 인터페이스가 아니면 ok=false.
func (w *walker) viaInterfaces(rv reflect.Value) (model.Value, bool) {
	if !rv.CanInterface() {
		return model.Value{}, false
	}
	t := rv.Type()
	switch {
	case t.Implements(marshalerType):
		return marshalRaw(rv.Interface().(json.Marshaler)), true
	case t.Implements(textType):
		return marshalText(rv.Interface().(encoding.TextMarshaler)), true
	case t.Implements(errorType):
		return errorValue(rv.Interface().(error)), true
	}
	return model.Value{}, false
}

func (w *walker) mapValue(rv reflect.Value) (model.Value, error) {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, ok := mapKey(iter.Key())
		if !ok {
			return model.OpaqueValue(), nil
		}
		entries = append(entries, entry{key: k, val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	fields := make([]model.Field, 0, len(entries))
	for _, e := range entries {
		v, err := w.elem(e.val)
		if err != nil {
			return model.Value{}, err
		}
		fields = append(fields, model.Field{Key: e.key, Value: v})
	}
	return model.ObjectValue(fields), nil
}

func (w *walker) structValue(rv reflect.Value) (model.Value, error) {
	t := rv.Type()
	fields := make([]model.Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := fieldName(sf)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		v, err := w.elem(fv)
		if err != nil {
			return model.Value{}, err
		}
		fields = append(fields, model.Field{Key: name, Value: v})
	}
	return model.ObjectValue(fields), nil
}

// fieldName 은 json 태그를 따른다.
func fieldName(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = sf.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// refOf 는 순환 추적 대상(pointer, map, 비어있지 않은 slice)의 식별 키.
func refOf(rv reflect.Value) (refKey, bool) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		return refKey{ptr: rv.Pointer(), typ: rv.Type()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return refKey{}, false
		}
		return refKey{ptr: rv.Pointer(), typ: rv.Type()}, true
	}
	return refKey{}, false
}

func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			v := marshalText(tm)
			if v.Kind == model.KindString {
				return v.Str, true
			}
			return "", false
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

func floatValue(f float64, bits int) model.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return model.OpaqueValue()
	}
	return model.NumberValue(strconv.FormatFloat(f, 'g', -1, bits))
}

// validNumber 는 s 가 JSON number 문법을 정확히 따르는지 본다.
//
//	-? (0 | [1-9][0-9]*) (\.[0-9]+)? ([eE][+-]?[0-9]+)?
//
// ParseFloat 는 "+1", "NaN", ".5" 도 받아들이므로 쓰지 않는다.
func validNumber(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	switch {
	case i < len(s) && s[i] == '0':
		i++
	case i < len(s) && s[i] >= '1' && s[i] <= '9':
		i = skipDigits(s, i)
	default:
		return false
	}
	if i < len(s) && s[i] == '.' {
		j := skipDigits(s, i+1)
		if j == i+1 {
			return false
		}
		i = j
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		j := skipDigits(s, i)
		if j == i {
			return false
		}
		i = j
	}
	return i == len(s)
}

func skipDigits(s string, i int) int {
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}

func marshalRaw(m json.Marshaler) (v model.Value) {
	defer func() {
		if r := recover(); r != nil {
			v = model.OpaqueValue()
		}
	}()
	raw, err := m.MarshalJSON()
	if err != nil || !json.Valid(raw) {
		return model.OpaqueValue()
	}
	return model.RawValue(raw)
}

func marshalText(m encoding.TextMarshaler) (v model.Value) {
	defer func() {
		if r := recover(); r != nil {
			v = model.OpaqueValue()
		}
	}()
	text, err := m.MarshalText()
	if err != nil {
		return model.OpaqueValue()
	}
	return model.StringValue(string(text))
}

func errorValue(err error) (v model.Value) {
	defer func() {
		if r := recover(); r != nil {
			v = model.OpaqueValue()
		}
	}()
	return model.StringValue(err.Error())
}
