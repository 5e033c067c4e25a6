package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 는 shipper 상태를 나타내는 카운터 모음이다.
// 모든 필드는 atomic 으로만 접근한다.
type Metrics struct {
	// ======================
	// HTTP 레벨 지표 (serve 모드)
	// ======================

	// HTTPRequestsTotal
	// - /log 엔드포인트로 들어온 모든 요청 수 (시도 기준).
	HTTPRequestsTotal int64

	// HTTPRequestsAcceptedTotal
	// - 디코딩에 성공해 shipper 로 넘긴 요청 수.
	HTTPRequestsAcceptedTotal int64

	// HTTPRequestsRejectedBodyTooLargeTotal
	// - Body 가 MaxBodySize 를 초과해 413 으로 거절된 요청 수.
	HTTPRequestsRejectedBodyTooLargeTotal int64

	// HTTPRequestsRejectedBadRequestTotal
	// - JSON 디코딩 실패 등으로 400 을 돌려준 요청 수.
	HTTPRequestsRejectedBadRequestTotal int64

	// ======================
	// Shipping 지표
	// ======================

	// EntriesTotal
	// - shipper 에 들어온 로그 엔트리 수.
	EntriesTotal int64

	// EntriesSentTotal
	// - primary stream 전송까지 성공한 엔트리 수 (대체 엔트리 포함).
	EntriesSentTotal int64

	// SendErrorsTotal
	// - 파이프라인 어디선가 실패해 유실된 엔트리 수.
	// - 전송 실패, 재작성 실패, panic 모두 포함. 재시도하지 않는다.
	SendErrorsTotal int64

	// SerializationFallbacksTotal
	// - 직렬화 실패로 fallback 엔트리(LogSerializationException)를 보낸 횟수.
	SerializationFallbacksTotal int64

	// ======================
	// Overflow 지표
	// ======================

	// OverflowWarningsTotal
	// - 임계값 초과 + 저장소 비활성 → 경고 엔트리로 대체한 횟수.
	OverflowWarningsTotal int64

	// OverflowStoredTotal / OverflowStoreFailedTotal
	// - blob 저장 성공(201 Created) / 실패(거절 또는 에러) 횟수.
	OverflowStoredTotal      int64
	OverflowStoreFailedTotal int64

	// OverflowBytesTotal
	// - 저장소로 넘긴 overflow payload 의 누적 바이트 (압축 전).
	OverflowBytesTotal int64

	// CancellationsTotal
	// - Cancel() 이 Successful 을 돌려준 횟수.
	CancellationsTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

// counter 는 이름과 필드 포인터의 쌍. String() 과 Collector 가 같은 목록을 쓴다.
type counter struct {
	name string
	help string
	ptr  *int64
}

func (m *Metrics) counters() []counter {
	return []counter{
		{"http_requests_total", "All requests received on /log.", &m.HTTPRequestsTotal},
		{"http_requests_accepted_total", "Requests decoded and handed to the shipper.", &m.HTTPRequestsAcceptedTotal},
		{"http_requests_rejected_body_too_large_total", "Requests rejected with 413.", &m.HTTPRequestsRejectedBodyTooLargeTotal},
		{"http_requests_rejected_bad_request_total", "Requests rejected with 400.", &m.HTTPRequestsRejectedBadRequestTotal},

		{"entries_total", "Log entries handed to the shipper.", &m.EntriesTotal},
		{"entries_sent_total", "Log entries written to the primary stream.", &m.EntriesSentTotal},
		{"send_errors_total", "Log entries lost because the pipeline failed.", &m.SendErrorsTotal},
		{"serialization_fallbacks_total", "Entries replaced by a serialization failure notice.", &m.SerializationFallbacksTotal},

		{"overflow_warnings_total", "Oversize entries replaced by a warning (storage disabled).", &m.OverflowWarningsTotal},
		{"overflow_stored_total", "Oversize entries stored as blobs.", &m.OverflowStoredTotal},
		{"overflow_store_failed_total", "Oversize entries whose blob write failed.", &m.OverflowStoreFailedTotal},
		{"overflow_bytes_total", "Bytes handed to overflow storage.", &m.OverflowBytesTotal},
		{"cancellations_total", "Successful overflow write cancellations.", &m.CancellationsTotal},
	}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	for _, c := range m.counters() {
		fmt.Fprintf(&sb, "%s=%d\n", c.name, atomic.LoadInt64(c.ptr))
	}
	return sb.String()
}

// ---------------------------------------------------------------
// Prometheus 연동
//
// 카운터는 그대로 atomic 필드에 두고,
// scrape 시점에 값을 읽어 const metric 으로 내보낸다.
// ---------------------------------------------------------------

const namespace = "logship"

type collector struct {
	m     *Metrics
	descs []*prometheus.Desc
}

// Collector 는 Metrics 를 prometheus.Collector 로 감싼다.
func (m *Metrics) Collector() prometheus.Collector {
	cs := m.counters()
	descs := make([]*prometheus.Desc, len(cs))
	for i, c := range cs {
		descs[i] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", c.name), c.help, nil, nil)
	}
	return &collector{m: m, descs: descs}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for i, cnt := range c.m.counters() {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.CounterValue, float64(atomic.LoadInt64(cnt.ptr)))
	}
}
