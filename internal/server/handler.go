package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"

	"logship/internal/metrics"
	"logship/internal/model"
	"logship/internal/pool"
	"logship/internal/provider"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ClientAddressKey 는 요청자의 IP 를 담는 속성 이름이다.
const ClientAddressKey = "_ClientAddress"

// LogRequest 는 POST /log body 이다.
//
//	{"Category":"Billing.Jobs","Level":"Error","EventId":{"Id":5,"Name":"Job"},
//	 "MessageTemplate":"Job {Id} failed","Properties":{"Id":7},
//	 "Exception":{"Type":"System.TimeoutException","Message":"..."}}
type LogRequest struct {
	Category        string         `json:"Category"`
	Level           string         `json:"Level"`
	EventID         eventIDRequest `json:"EventId"`
	MessageTemplate string         `json:"MessageTemplate"`
	Properties      map[string]any `json:"Properties"`
	Exception       *RemoteError   `json:"Exception"`
}

type eventIDRequest struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

// RemoteError 는 클라이언트가 보낸 예외이다. 원래 타입 이름을 그대로 기록한다.
type RemoteError struct {
	Type    string       `json:"Type"`
	Message string       `json:"Message"`
	Inner   *RemoteError `json:"Inner"`
}

func (e *RemoteError) Error() string    { return e.Message }
func (e *RemoteError) TypeName() string { return e.Type }

func (e *RemoteError) Unwrap() error {
	if e.Inner == nil {
		return nil
	}
	return e.Inner
}

type Handler struct {
	maxBodySize int64
	provider    *provider.Provider
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewHandler(p *provider.Provider, m *metrics.Metrics, maxBodySize int64) *Handler {
	return &Handler{
		maxBodySize: maxBodySize,
		provider:    p,
		metrics:     m,
		log:         zlog.Logger.With().Str("component", "http").Logger(),
	}
}

// Routes
//
//   - /log          : 로그 엔트리 1건 수집
//   - /metrics      : Prometheus exposition
//   - /metrics/text : 카운터 텍스트 덤프
//   - /health       : health check
func (h *Handler) Routes() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(h.metrics.Collector())

	mux := http.NewServeMux()
	mux.HandleFunc("/log", h.HandleLog)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/metrics/text", h.HandleMetrics)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleLog
//
// 처리 순서:
//  1. body 크기 제한 (초과 → 413)
//  2. JSON 디코딩, 레벨 확인 (실패 → 400)
//  3. provider 로 넘김 (비동기 전송) → 202
//
// 전송 결과는 기다리지 않는다. 실패는 shipper 카운터로만 보인다.
func (h *Handler) HandleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBodyTooLargeTotal, 1)
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.badRequest(w, fmt.Errorf("read body: %w", err))
		return
	}

	req, level, err := DecodeRequest(buf.Bytes())
	if err != nil {
		h.badRequest(w, err)
		return
	}

	var extra []any
	if ip := clientIP(r); ip != "" {
		extra = append(extra, ClientAddressKey, ip)
	}
	req.Emit(h.provider, level, extra...)

	atomic.AddInt64(&h.metrics.HTTPRequestsAcceptedTotal, 1)
	w.WriteHeader(http.StatusAccepted)
}

// HandleMetrics 는 카운터를 "name=value" 줄 단위로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBadRequestTotal, 1)
	h.log.Debug().Err(err).Msg("rejected log request")
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// DecodeRequest 는 숫자를 json.Number 로 보존한다 (큰 정수 손실 방지).
// Level 이 비어 있으면 Information.
func DecodeRequest(body []byte) (*LogRequest, provider.Level, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var req LogRequest
	if err := dec.Decode(&req); err != nil {
		return nil, 0, fmt.Errorf("decode log request: %w", err)
	}

	level := provider.LevelInformation
	if req.Level != "" {
		l, err := provider.ParseLevel(req.Level)
		if err != nil {
			return nil, 0, err
		}
		level = l
	}
	return &req, level, nil
}

// Emit 은 요청을 category Logger 로 넘긴다.
// Properties 는 key 순으로 정렬하고, extra 는 그 뒤에 붙는다.
func (r *LogRequest) Emit(p *provider.Provider, level provider.Level, extra ...any) {
	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]any, 0, 2*len(keys)+len(extra))
	for _, k := range keys {
		kv = append(kv, k, r.Properties[k])
	}
	kv = append(kv, extra...)

	var cause error
	if r.Exception != nil {
		cause = r.Exception
	}
	p.Logger(r.Category).Log(level,
		model.EventID{ID: r.EventID.ID, Name: r.EventID.Name},
		r.MessageTemplate, cause, kv...)
}
