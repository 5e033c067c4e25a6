package model

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// Kind 는 Value 가 담고 있는 값의 종류이다.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindList
	KindRaw    // json.Marshaler 가 이미 인코딩한 JSON
	KindOpaque // 직렬화 불가 값 (출력에서 제외)
)

// Value
// ------------------------------------------------------------
// property bag 값을 정규화한 tagged union.
// codec 이 임의의 Go 값을 Value 트리로 변환하고,
// 순환 참조 / 직렬화 불가 값은 이 단계에서 이미 제거 또는 Opaque 로 표시된다.
//
// Object 는 Fields 슬라이스로 순서를 유지한다.
type Value struct {
	Kind   Kind
	Str    string // KindString, KindNumber(10진 문자열)
	Bool   bool
	Fields []Field
	Items  []Value
	Raw    []byte
}

// Field 는 Object 의 key/value 한 쌍이다.
type Field struct {
	Key   string
	Value Value
}

func NullValue() Value              { return Value{Kind: KindNull} }
func StringValue(s string) Value    { return Value{Kind: KindString, Str: s} }
func NumberValue(n string) Value    { return Value{Kind: KindNumber, Str: n} }
func BoolValue(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func ObjectValue(f []Field) Value   { return Value{Kind: KindObject, Fields: f} }
func ListValue(items []Value) Value { return Value{Kind: KindList, Items: items} }
func RawValue(raw []byte) Value     { return Value{Kind: KindRaw, Raw: raw} }
func OpaqueValue() Value            { return Value{Kind: KindOpaque} }

// IsOpaque 는 출력에서 제외해야 하는 값인지 여부.
func (v Value) IsOpaque() bool { return v.Kind == KindOpaque }

// MarshalJSON 은 Fields 순서를 그대로 유지한 JSON 을 만든다.
// Opaque 필드/원소는 건너뛰고, 최상위 Opaque 는 null 로 기록한다.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) appendTo(buf *bytes.Buffer) error {
	switch v.Kind {
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindNumber:
		buf.WriteString(v.Str)
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindObject:
		buf.WriteByte('{')
		first := true
		for _, f := range v.Fields {
			if f.Value.IsOpaque() {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.appendTo(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindList:
		buf.WriteByte('[')
		first := true
		for _, it := range v.Items {
			if it.IsOpaque() {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := it.appendTo(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindRaw:
		if len(v.Raw) == 0 {
			buf.WriteString("null")
			return nil
		}
		buf.Write(v.Raw)
	default:
		// KindNull, KindOpaque
		buf.WriteString("null")
	}
	return nil
}
