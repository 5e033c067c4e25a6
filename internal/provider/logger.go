package provider

import (
	"fmt"
	"strings"
	"time"

	"logship/internal/model"
)

// OriginalFormatKey 로 넘긴 문자열 값은 속성이 아니라 메시지 템플릿이 된다.
const OriginalFormatKey = "{OriginalFormat}"

// 식별 속성 이름
const (
	KeyEnvironment   = "_Environment"
	KeySystem        = "_System"
	KeyService       = "_Service"
	KeyNodeName      = "_NodeName"
	KeyComponentName = "_ComponentName"
)

// Sink 는 완성된 엔트리를 받는 쪽이다. shipper.Shipper 가 구현한다.
type Sink interface {
	Log(e *model.LogEntry)
}

// Provider 는 category 별 Logger 를 만든다.
type Provider struct {
	opts Options
	sink Sink
	now  func() time.Time
}

// New 는 opts 를 검증한 뒤 Provider 를 만든다.
func New(opts Options, sink Sink) (*Provider, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is nil", model.ErrInvalidArgument)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Provider{opts: opts, sink: sink, now: time.Now}, nil
}

// Logger 는 category(보통 패키지나 컴포넌트 이름) 전용 Logger 를 반환한다.
// 최소 레벨은 생성 시점에 한 번만 계산한다.
func (p *Provider) Logger(category string) *Logger {
	return &Logger{
		p:        p,
		category: category,
		min:      p.opts.MinimumLevelFor(category),
	}
}

type Logger struct {
	p        *Provider
	category string
	min      Level
}

func (l *Logger) Enabled(level Level) bool {
	return level != LevelNone && level >= l.min
}

// Log
// ------------------------------------------------------------
// kv 는 key, value 가 번갈아 오는 목록이다.
//   - key 앞의 '@' 는 떼어낸다
//   - 같은 key 가 다시 나오면 값들을 []any 로 모은다
//   - OriginalFormatKey 의 문자열 값은 template 을 대신한다
//
// 엔트리를 sink 에 넘기고 바로 돌아온다.
func (l *Logger) Log(level Level, eventID model.EventID, template string, err error, kv ...any) {
	if !l.Enabled(level) {
		return
	}

	props, tmpl := l.buildProperties(kv)
	if tmpl == "" {
		tmpl = template
	}

	l.p.sink.Log(&model.LogEntry{
		Timestamp:       l.p.now().UTC(),
		Level:           level.String(),
		MessageTemplate: tmpl,
		Properties:      props,
		EventID:         eventID,
		Err:             err,
	})
}

func (l *Logger) Info(template string, kv ...any) {
	l.Log(LevelInformation, model.EventID{}, template, nil, kv...)
}

func (l *Logger) Warn(template string, kv ...any) {
	l.Log(LevelWarning, model.EventID{}, template, nil, kv...)
}

func (l *Logger) Error(err error, template string, kv ...any) {
	l.Log(LevelError, model.EventID{}, template, err, kv...)
}

func (l *Logger) buildProperties(kv []any) (*model.Properties, string) {
	o := &l.p.opts

	props := model.NewProperties()
	props.Set(KeyEnvironment, o.Environment)
	props.Set(KeySystem, o.System)
	props.Set(KeyService, o.Service)
	props.Set(KeyNodeName, o.NodeName)
	props.Set(KeyComponentName, l.category)

	runHook(o.AdditionalValues, props)

	var tmpl string
	merged := make(map[string]bool)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}

		if key == OriginalFormatKey {
			if s, ok := val.(string); ok {
				tmpl = s
				continue
			}
		}
		key = strings.TrimPrefix(key, "@")

		prev, exists := props.Get(key)
		switch {
		case !exists:
			props.Set(key, val)
		case merged[key]:
			props.Set(key, append(prev.([]any), val))
		default:
			props.Set(key, []any{prev, val})
			merged[key] = true
		}
	}
	return props, tmpl
}

// runHook 은 hook 의 panic 을 LoggingError 속성으로 남긴다.
func runHook(hook func(*model.Properties), props *model.Properties) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			props.Set("LoggingError", "additionalValuesProvider throw exception: "+err.Error())
			props.Set("LoggingErrorException", err)
		}
	}()
	hook(props)
}
