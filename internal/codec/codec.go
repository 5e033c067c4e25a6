package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"logship/internal/model"

	json "github.com/goccy/go-json"
)

// ErrConverter 는 사용자 Converter 가 실패(에러 반환 또는 panic)했을 때 반환된다.
// shipper 는 이 경우 converter 없는 Serializer 로 fallback 엔트리를 만든다.
var ErrConverter = errors.New("codec: converter failed")

// Converter
// ------------------------------------------------------------
// 특정 타입의 속성 값을 직렬화 전에 다른 값으로 바꾸는 확장 지점.
// Convert 결과는 다시 일반 규칙으로 정규화된다.
type Converter interface {
	CanConvert(v any) bool
	Convert(v any) (any, error)
}

// ConverterFunc 는 타입 하나만 처리하는 간단한 Converter 를 만든다.
func ConverterFunc[T any](fn func(T) (any, error)) Converter {
	return funcConverter[T]{fn: fn}
}

type funcConverter[T any] struct {
	fn func(T) (any, error)
}

func (c funcConverter[T]) CanConvert(v any) bool {
	_, ok := v.(T)
	return ok
}

func (c funcConverter[T]) Convert(v any) (any, error) {
	return c.fn(v.(T))
}

// Serializer
// ------------------------------------------------------------
// LogEntry → canonical JSON.
//
// 출력 형태:
//
//	{"Timestamp":..., "Level":..., "MessageTemplate":...,
//	 "Properties":{...}|null, "EventId":{"Id":..,"Name":..},
//	 "Exception":{"Type":..,"Message":..,"Inner":{...}}|null}
//
// 읽을 수 없거나 panic 하는 속성 값은 문서 전체를 실패시키지 않고 생략한다.
// Serializer 는 불변이며 여러 goroutine 에서 공유해도 된다.
type Serializer struct {
	indent     bool
	converters []Converter
}

type Option func(*Serializer)

// WithIndent 는 사람이 읽기 좋은 들여쓰기 출력을 켠다.
func WithIndent() Option {
	return func(s *Serializer) { s.indent = true }
}

// WithConverters 는 앞에 등록된 converter 가 먼저 적용된다.
func WithConverters(cs ...Converter) Option {
	return func(s *Serializer) {
		s.converters = append(s.converters, cs...)
	}
}

func New(opts ...Option) *Serializer {
	s := &Serializer{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithoutConverters 는 같은 설정에서 converter 만 뺀 사본을 반환한다.
// converter 자체가 실패 원인일 수 있으므로 fallback 직렬화에 쓴다.
func (s *Serializer) WithoutConverters() *Serializer {
	return &Serializer{indent: s.indent}
}

// HasConverters 는 등록된 converter 가 있는지 여부.
func (s *Serializer) HasConverters() bool { return len(s.converters) > 0 }

type document struct {
	Timestamp       time.Time     `json:"Timestamp"`
	Level           string        `json:"Level"`
	MessageTemplate string        `json:"MessageTemplate"`
	Properties      *model.Value  `json:"Properties"`
	EventID         eventDoc      `json:"EventId"`
	Exception       *exceptionDoc `json:"Exception"`
}

type eventDoc struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

type exceptionDoc struct {
	Type    string        `json:"Type"`
	Message string        `json:"Message"`
	Inner   *exceptionDoc `json:"Inner,omitempty"`
}

// Marshal 은 entry 를 JSON 으로 직렬화한다.
// converter 실패만 에러(ErrConverter)로 돌려주고, 그 외 값 문제는 생략으로 처리한다.
func (s *Serializer) Marshal(e *model.LogEntry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil log entry", model.ErrInvalidArgument)
	}

	doc := document{
		Timestamp:       e.Timestamp,
		Level:           e.Level,
		MessageTemplate: e.MessageTemplate,
		EventID:         eventDoc{ID: e.EventID.ID, Name: e.EventID.Name},
		Exception:       describeError(e.Err, 0),
	}

	if e.Properties.Len() > 0 {
		w := newWalker(s.converters)
		props, err := w.properties(e.Properties)
		if err != nil {
			return nil, err
		}
		doc.Properties = &props
	}

	if s.indent {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

func (s *Serializer) MarshalString(e *model.LogEntry) (string, error) {
	b, err := s.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Inner 체인 최대 깊이 (Unwrap 순환 방지)
const maxErrorDepth = 8

func describeError(err error, depth int) *exceptionDoc {
	if err == nil || depth >= maxErrorDepth {
		return nil
	}
	return &exceptionDoc{
		Type:    TypeName(err),
		Message: safeErrorText(err),
		Inner:   describeError(errors.Unwrap(err), depth+1),
	}
}

// TypeNamer 를 구현한 에러는 자신의 타입 이름을 직접 정한다.
// 다른 프로세스에서 넘어온 예외를 원래 이름으로 기록할 때 쓴다.
type TypeNamer interface {
	TypeName() string
}

// TypeName 은 에러의 동적 타입 이름을 포인터 표시 없이 반환한다.
// 예: *fs.PathError → "fs.PathError"
func TypeName(err error) string {
	if n, ok := err.(TypeNamer); ok {
		if name := n.TypeName(); name != "" {
			return name
		}
	}
	return strings.TrimLeft(fmt.Sprintf("%T", err), "*")
}

func safeErrorText(err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = ""
		}
	}()
	return err.Error()
}
