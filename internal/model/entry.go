// internal/model/entry.go
package model

import "time"

// LogEntry
// ------------------------------------------------------------
// 애플리케이션 로그 호출 1건을 나타내는 구조체.
// shipping 파이프라인의 "기본 단위"이며,
// Logger → Shipper → Codec → (Overflow) → Stream 까지 그대로 전달된다.
//
// Shipper 에 넘겨진 이후에는 수정하지 않는다.
// overflow 재작성은 항상 Clone() 한 사본에서만 수행한다.
type LogEntry struct {
	Timestamp       time.Time   // 로그 발생 시각
	Level           string      // "Information", "Warning" ...
	MessageTemplate string      // 사람이 읽는 메시지 템플릿
	Properties      *Properties // 구조화 속성 (nil 허용, 자기참조 허용)
	EventID         EventID     // 이벤트 식별자 (숫자 + 이름)
	Err             error       // 함께 기록할 에러 (optional)
}

// EventID 는 숫자 id 와 이름의 쌍이다.
type EventID struct {
	ID   int
	Name string
}

// Clone 은 얕은 복사본을 반환한다.
// Properties 는 공유되므로 사본에서 속성을 바꾸려면 새 Properties 를 할당해야 한다.
func (e *LogEntry) Clone() *LogEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
