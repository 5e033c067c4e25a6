package overflow

// Classification 은 직렬화된 엔트리의 크기 판정 결과이다.
type Classification int

const (
	NoOverflow          Classification = iota // 임계값 미만 → 그대로 전송
	OverflowNoStorage                         // 임계값 이상, 저장소 비활성 → 경고 전송
	OverflowWithStorage                       // 임계값 이상, 저장소 활성 → blob 저장 후 참조 전송
)

func (c Classification) String() string {
	switch c {
	case NoOverflow:
		return "NoOverflow"
	case OverflowNoStorage:
		return "OverflowNoStorage"
	case OverflowWithStorage:
		return "OverflowWithStorage"
	}
	return "Unknown"
}

// megabyte = 1024 × 1024 bytes
const megabyte = 1024 * 1024

// IsLong
// ------------------------------------------------------------
// UTF-8 바이트 길이가 thresholdMB × 1MB 이상이면 true.
// Go string 의 len() 은 문자 수가 아니라 인코딩된 바이트 수이다.
// 경계값(정확히 threshold 바이트)은 long 으로 본다.
func IsLong(message string, thresholdMB int) bool {
	return int64(len(message)) >= int64(thresholdMB)*megabyte
}

// Classify 는 순수 함수이다. policy 가 nil 이면 저장소 미구성으로 본다.
func Classify(message string, thresholdMB int, policy *Policy) Classification {
	if !IsLong(message, thresholdMB) {
		return NoOverflow
	}
	if policy == nil || !policy.Enabled {
		return OverflowNoStorage
	}
	return OverflowWithStorage
}
