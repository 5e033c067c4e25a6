package provider

import (
	"errors"
	"fmt"
	"strings"

	"logship/internal/model"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidOptions 는 Options 검증 실패 시 반환된다.
var ErrInvalidOptions = errors.New("provider: invalid options")

// Level 은 로그 심각도이다. 값이 클수록 심각하다.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelCritical
	LevelNone
)

var levelNames = [...]string{"Trace", "Debug", "Information", "Warning", "Error", "Critical", "None"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelNone {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel 은 대소문자를 구분하지 않는다. "info", "warn" 같은 축약도 받는다.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "information", "info":
		return LevelInformation, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	case "none":
		return LevelNone, nil
	}
	return LevelNone, fmt.Errorf("%w: unknown level %q", ErrInvalidOptions, s)
}

// Options
// ------------------------------------------------------------
// 로거 front-end 설정.
// 모든 엔트리에 붙는 식별 속성(_Environment, _System, _Service, _NodeName)과
// category 별 최소 레벨을 정한다.
type Options struct {
	Environment string `validate:"required"`
	System      string `validate:"required"`
	Service     string `validate:"required"`
	NodeName    string `validate:"required"`

	DefaultMinimumLevel Level

	// MinimumLevels 는 category prefix → 최소 레벨. prefix 는 '.' 또는 '\' 로 나뉜다.
	MinimumLevels map[string]Level

	// AdditionalValues 는 엔트리마다 속성을 덧붙이는 hook. nil 이면 아무것도 하지 않는다.
	AdditionalValues func(props *model.Properties)
}

var validate = validator.New()

// Validate 는 비어 있는 필수 항목을 모두 모아 한 번에 보고한다.
func (o *Options) Validate() error {
	var missing []string
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
		for _, fe := range verrs {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: parameters %s must be set to a valid value", ErrInvalidOptions, strings.Join(missing, ","))
	}

	if _, ok := o.MinimumLevels[""]; ok {
		return fmt.Errorf("%w: MinimumLevels can not contain an empty key", ErrInvalidOptions)
	}
	return nil
}

// MinimumLevelFor
// ------------------------------------------------------------
// category 와 가장 길게 일치하는 prefix 의 레벨을 고른다.
// "Foo.Bar" 는 "Foo" 와 "Foo.Bar" 에 일치하고 "Foo.Ba" 에는 일치하지 않는다 (토큰 단위).
// 일치하는 prefix 가 없으면 DefaultMinimumLevel.
func (o *Options) MinimumLevelFor(category string) Level {
	tokens := splitCategory(category)

	best, bestLen := o.DefaultMinimumLevel, -1
	for key, lvl := range o.MinimumLevels {
		kt := splitCategory(key)
		if len(kt) > len(tokens) || len(kt) <= bestLen {
			continue
		}
		if !hasPrefix(tokens, kt) {
			continue
		}
		best, bestLen = lvl, len(kt)
	}
	return best
}

func splitCategory(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '\\' })
}

func hasPrefix(tokens, prefix []string) bool {
	for i, p := range prefix {
		if tokens[i] != p {
			return false
		}
	}
	return true
}
