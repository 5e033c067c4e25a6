package overflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"logship/internal/codec"
	"logship/internal/model"
)

// Notice 는 overflow 재작성 엔트리에 실리는 합성 에러이다.
// 원래 payload 대신 "무슨 일이 있었는지" 를 Exception 필드로 전달한다.
type Notice struct {
	Text string
}

func (n *Notice) Error() string { return n.Text }

// 경고 메시지에 포함할 원본 템플릿 최대 길이 (문자 수)
const warningPrefixRunes = 256

// WarningLevel 은 저장소 없이 overflow 됐을 때의 레벨.
const WarningLevel = "Warning"

// Rewriter
// ------------------------------------------------------------
// overflow 된 엔트리를 primary stream 으로 보낼 대체 엔트리로 바꾼다.
// 호출자의 원본 엔트리는 건드리지 않고 항상 사본을 만든다.
// 직렬화는 일반 엔트리와 같은 Serializer 를 쓴다.
type Rewriter struct {
	codec *codec.Serializer
}

func NewRewriter(s *codec.Serializer) *Rewriter {
	return &Rewriter{codec: s}
}

// WarningEntry 는 OverflowNoStorage 용 대체 엔트리.
//   - level Warning, timestamp/event id 유지, 속성 제거
//   - 템플릿에 원본 템플릿 앞 256자 포함
func WarningEntry(e *model.LogEntry, thresholdMB int) *model.LogEntry {
	text := fmt.Sprintf(
		"A log over %dMB was submitted with part of the message template: %s. "+
			"Please enable the overflow storage feature to store details of oversize logs.",
		thresholdMB, runePrefix(e.MessageTemplate, warningPrefixRunes))

	w := e.Clone()
	w.Level = WarningLevel
	w.MessageTemplate = text
	w.Properties = nil
	w.Err = &Notice{Text: text}
	return w
}

// StoredEntry 는 OverflowWithStorage 용 대체 엔트리.
// 결과에 따라 성공/실패 템플릿을 고르고 치환한 문자열을
// 메시지 템플릿과 합성 에러 양쪽에 넣는다. 속성은 버린다.
func StoredEntry(res model.StorageWriteResult, p *Policy, e *model.LogEntry) *model.LogEntry {
	text := Substitute(SelectTemplate(res, p), res)

	s := e.Clone()
	s.MessageTemplate = text
	s.Properties = nil
	s.Err = &Notice{Text: text}
	return s
}

func (r *Rewriter) ToWarning(e *model.LogEntry, thresholdMB int) (string, error) {
	if e == nil {
		return "", fmt.Errorf("%w: nil log entry", model.ErrInvalidArgument)
	}
	return r.codec.MarshalString(WarningEntry(e, thresholdMB))
}

func (r *Rewriter) ToStored(res model.StorageWriteResult, p *Policy, e *model.LogEntry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("%w: nil log entry", model.ErrInvalidArgument)
	}
	if p == nil {
		return "", fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}
	return r.codec.MarshalString(StoredEntry(res, p, e))
}

// SelectTemplate 는 IsStored 에 따라 성공/실패 템플릿을 고른다.
func SelectTemplate(res model.StorageWriteResult, p *Policy) string {
	if res.IsStored {
		return p.SuccessTemplate
	}
	return p.FailureTemplate
}

// placeholder 표
// ------------------------------------------------------------
// {{이름}} → 결과 필드 값. 기존 템플릿 호환 이름과 Go 필드 이름을 모두 받는다.
// 값이 없으면 (크기 0, 시각 nil) 빈 문자열로 지운다.
var placeholders = []struct {
	name  string
	value func(model.StorageWriteResult) string
}{
	{"BlobFullName", func(r model.StorageWriteResult) string { return r.BlobFullName }},
	{"ReasonPhrase", func(r model.StorageWriteResult) string { return r.ReasonPhrase }},
	{"StatusCode", func(r model.StorageWriteResult) string { return strconv.Itoa(r.StatusCode) }},
	{"RequestId", func(r model.StorageWriteResult) string { return r.RequestID }},
	{"RequestID", func(r model.StorageWriteResult) string { return r.RequestID }},
	{"FileSHA", func(r model.StorageWriteResult) string { return r.ContentToken }},
	{"ContentToken", func(r model.StorageWriteResult) string { return r.ContentToken }},
	{"IsStored", func(r model.StorageWriteResult) string { return strconv.FormatBool(r.IsStored) }},
	{"FileSize", func(r model.StorageWriteResult) string {
		if r.FileSize <= 0 {
			return ""
		}
		return strconv.FormatInt(r.FileSize, 10)
	}},
	{"ModifiedDate", func(r model.StorageWriteResult) string {
		if r.ModifiedDate == nil {
			return ""
		}
		return r.ModifiedDate.Format(time.RFC3339)
	}},
}

// Substitute
// ------------------------------------------------------------
// 한 번의 순회로 치환한다 (strings.Replacer).
//   - 대소문자 구분, {{이름}} 전체 토큰만
//   - 치환된 값은 다시 검사하지 않는다 (값 안의 {{...}} 는 그대로 남음)
func Substitute(template string, res model.StorageWriteResult) string {
	pairs := make([]string, 0, len(placeholders)*2)
	for _, ph := range placeholders {
		pairs = append(pairs, "{{"+ph.name+"}}", ph.value(res))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// runePrefix 는 UTF-8 문자를 자르지 않도록 rune 단위로 자른다.
func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
