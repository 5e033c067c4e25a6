package shipper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"logship/internal/model"
	"logship/internal/overflow"
)

// 직렬화 실패 시 대신 보내는 엔트리의 고정 값
const (
	FallbackEventID   = 7437
	FallbackEventName = "LogSerializationException"
	FallbackTemplate  = "Log Serialization failed with exception"
	FallbackLevel     = "Warning"
)

// ErrStillOversize 는 대체 엔트리조차 임계값을 넘은 경우이다 (전송하지 않음).
var ErrStillOversize = errors.New("shipper: rewritten entry still exceeds threshold")

// Outcome 은 엔트리 1건 처리 결과이다. 관찰/테스트용이며 Log 호출자는 보지 않는다.
type Outcome struct {
	Classification overflow.Classification
	Fallback       bool                      // 직렬화 실패로 fallback 엔트리를 보냄
	Write          *model.StorageWriteResult // blob 쓰기를 시도한 경우에만
	Sent           bool
	Err            error
}

// PanicError 는 파이프라인 중 발생한 panic 을 감싼다.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// FallbackEntry 는 직렬화 실패를 설명하는 대체 엔트리이다.
// 원본 엔트리의 시각을 유지하되, 없거나 직렬화할 수 없는 시각이면 now 를 쓴다.
func FallbackEntry(e *model.LogEntry, cause error, now func() time.Time) *model.LogEntry {
	ts := now()
	if e != nil && !e.Timestamp.IsZero() {
		if _, err := e.Timestamp.MarshalJSON(); err == nil {
			ts = e.Timestamp
		}
	}
	return &model.LogEntry{
		Timestamp:       ts,
		Level:           FallbackLevel,
		MessageTemplate: FallbackTemplate,
		EventID:         model.EventID{ID: FallbackEventID, Name: FallbackEventName},
		Err:             cause,
	}
}

// Ship
// ------------------------------------------------------------
// 엔트리 1건의 전체 파이프라인을 현재 goroutine 에서 수행한다.
//
//  1. 직렬화 (실패 → converter 없는 설정으로 fallback 엔트리 직렬화)
//  2. 크기 판정
//  3. 분기: 그대로 / 경고 / blob 저장 + 참조
//  4. primary stream 전송
//
// 어떤 실패(panic 포함)도 밖으로 던지지 않는다. Outcome.Err 와 로그로만 남긴다.
func (s *Shipper) Ship(ctx context.Context, e *model.LogEntry) (out Outcome) {
	atomic.AddInt64(&s.metrics.EntriesTotal, 1)

	defer func() {
		if r := recover(); r != nil {
			out.Err = &PanicError{Value: r}
			out.Sent = false
		}
		if out.Err != nil {
			atomic.AddInt64(&s.metrics.SendErrorsTotal, 1)
			s.log.Error().
				Err(out.Err).
				Str("classification", out.Classification.String()).
				Msg("log entry lost")
		}
	}()

	// ------------------------------------------------------------
	// 1) 직렬화
	// ------------------------------------------------------------
	payload, source, fellBack, err := s.serialize(e)
	if err != nil {
		out.Err = err
		return out
	}
	out.Fallback = fellBack

	// ------------------------------------------------------------
	// 2) 크기 판정 + 3) 분기
	// ------------------------------------------------------------
	threshold := s.opts.ThresholdMB
	out.Classification = overflow.Classify(payload, threshold, s.policy)

	final := payload
	switch out.Classification {
	case overflow.OverflowNoStorage:
		atomic.AddInt64(&s.metrics.OverflowWarningsTotal, 1)
		s.log.Warn().
			Int("bytes", len(payload)).
			Int("threshold_mb", threshold).
			Msg("oversize log entry replaced by warning; overflow storage disabled")

		final, err = s.rewriter.ToWarning(source, threshold)

	case overflow.OverflowWithStorage:
		var res model.StorageWriteResult
		res, err = s.store(ctx, payload)
		if err == nil {
			out.Write = &res
			final, err = s.rewriter.ToStored(res, s.policy, source)
		}
	}
	if err != nil {
		out.Err = fmt.Errorf("rewrite oversize entry: %w", err)
		return out
	}
	if out.Classification != overflow.NoOverflow && overflow.IsLong(final, threshold) {
		out.Err = ErrStillOversize
		return out
	}

	// ------------------------------------------------------------
	// 4) 전송 (재시도 없음, transport client 에 위임)
	// ------------------------------------------------------------
	if err := s.sender.Send(ctx, []byte(final)); err != nil {
		out.Err = fmt.Errorf("send to stream: %w", err)
		return out
	}
	out.Sent = true
	atomic.AddInt64(&s.metrics.EntriesSentTotal, 1)
	return out
}

// serialize 는 직렬화된 문자열과, 실제로 직렬화한 엔트리(원본 또는 fallback)를 반환한다.
func (s *Shipper) serialize(e *model.LogEntry) (string, *model.LogEntry, bool, error) {
	payload, err := s.codec.MarshalString(e)
	if err == nil {
		return payload, e, false, nil
	}

	atomic.AddInt64(&s.metrics.SerializationFallbacksTotal, 1)
	s.log.Warn().Err(err).Msg("log serialization failed; sending fallback entry")

	fb := FallbackEntry(e, err, s.now)
	payload, ferr := s.fallback.MarshalString(fb)
	if ferr != nil {
		return "", nil, true, fmt.Errorf("serialize fallback entry: %w", errors.Join(err, ferr))
	}
	return payload, fb, true, nil
}

// store 는 overflow payload 를 blob 으로 쓴다.
// 쓰기 실패는 에러가 아니라 결과(IsStored=false)로 돌아온다.
func (s *Shipper) store(ctx context.Context, payload string) (model.StorageWriteResult, error) {
	if s.writer == nil {
		return model.StorageWriteResult{}, fmt.Errorf("%w: no overflow writer", overflow.ErrInvalidPolicy)
	}

	addr, err := s.address.Build(s.now().UTC())
	if err != nil {
		return model.StorageWriteResult{}, err
	}

	atomic.AddInt64(&s.metrics.OverflowBytesTotal, int64(len(payload)))
	res := s.writer.Write(ctx, addr.String(), []byte(payload), s.opts.CancellableWrites)

	if res.IsStored {
		atomic.AddInt64(&s.metrics.OverflowStoredTotal, 1)
		s.log.Info().
			Str("blob", res.BlobFullName).
			Int64("size", res.FileSize).
			Str("request_id", res.RequestID).
			Msg("oversize log entry stored")
	} else {
		atomic.AddInt64(&s.metrics.OverflowStoreFailedTotal, 1)
		s.log.Warn().
			Str("blob", res.BlobFullName).
			Int("status", res.StatusCode).
			Str("reason", res.ReasonPhrase).
			Msg("oversize log entry could not be stored")
	}
	return res, nil
}
