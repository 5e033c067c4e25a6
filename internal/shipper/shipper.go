package shipper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"logship/internal/codec"
	"logship/internal/metrics"
	"logship/internal/model"
	"logship/internal/overflow"
	"logship/internal/storage"
	"logship/internal/stream"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ErrClosed 는 Close 이후에 들어온 엔트리에 대해 기록된다.
var ErrClosed = errors.New("shipper: closed")

// Options 는 shipper 동작 파라미터이다.
type Options struct {
	Service     string
	Environment string

	// ThresholdMB 이상 크기의 직렬화 결과는 overflow 로 처리한다 (0 → 1).
	ThresholdMB int

	// StorageTimeout 은 overflow blob 쓰기 1회의 timeout (0 → 저장소 client 기본값).
	StorageTimeout time.Duration

	// CancellableWrites 가 true 면 overflow 쓰기를 Cancel() 로 중단할 수 있다.
	// 취소 slot 은 하나뿐이라 겹치는 쓰기 중 마지막 것만 대상이 된다.
	CancellableWrites bool
}

// Shipper
// ------------------------------------------------------------
// 로그 엔트리 1건을 primary stream 으로 보내는 파이프라인.
//
//	LogEntry → serialize → classify →
//	  NoOverflow          : 그대로 전송
//	  OverflowNoStorage   : 경고 엔트리로 대체해 전송
//	  OverflowWithStorage : blob 저장 → 참조 엔트리로 대체해 전송
//
// 주요 구성:
//   - Log: fire-and-forget. 호출마다 goroutine 1개, 결과는 관찰하지 않는다
//   - Ship: 동기 버전. 같은 파이프라인을 현재 goroutine 에서 수행
//   - Close: 새 엔트리 차단 → 진행 중 엔트리 대기 → stream 종료
//
// 백그라운드 loop 는 없다. 모든 작업은 로그 호출 단위로만 생긴다.
// 실패는 어떤 경우에도 호출자에게 전파하지 않고 로그와 카운터로만 남긴다.
type Shipper struct {
	opts     Options
	policy   *overflow.Policy
	sender   stream.Sender
	codec    *codec.Serializer
	fallback *codec.Serializer
	rewriter *overflow.Rewriter
	writer   *overflow.Writer // policy 비활성이면 nil
	address  overflow.AddressBuilder

	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type Option func(*Shipper)

// WithCodec 은 직렬화 설정(converter, indent)을 지정한다.
func WithCodec(s *codec.Serializer) Option {
	return func(sh *Shipper) { sh.codec = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(sh *Shipper) { sh.metrics = m }
}

// WithLogger 는 진단용 logger. 기본은 전역 zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(sh *Shipper) { sh.log = l }
}

// WithClock 은 blob 경로와 fallback 엔트리에 쓰는 시계를 바꾼다.
func WithClock(now func() time.Time) Option {
	return func(sh *Shipper) { sh.now = now }
}

// New
// ------------------------------------------------------------
// sender 의 소유권은 Shipper 로 넘어온다 (Close 에서 닫는다).
// policy 가 활성이면 store 가 반드시 있어야 한다.
// policy 가 nil 이거나 비활성이면 store 는 쓰지 않는다.
func New(sender stream.Sender, policy *overflow.Policy, store storage.BlobStore, opts Options, options ...Option) (*Shipper, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: stream sender is nil", model.ErrInvalidArgument)
	}
	if opts.ThresholdMB <= 0 {
		opts.ThresholdMB = 1
	}

	sh := &Shipper{
		opts:    opts,
		policy:  policy,
		sender:  sender,
		codec:   codec.New(),
		metrics: metrics.New(),
		log:     zlog.Logger,
		now:     time.Now,
	}
	for _, o := range options {
		o(sh)
	}
	sh.fallback = sh.codec.WithoutConverters()
	sh.rewriter = overflow.NewRewriter(sh.codec)

	if policy != nil && policy.Enabled {
		if store == nil {
			return nil, fmt.Errorf("%w: overflow storage enabled but no store given", overflow.ErrInvalidPolicy)
		}
		sh.writer = overflow.NewWriter(store,
			overflow.WithTimeout(opts.StorageTimeout),
			overflow.WithGzip(policy.Compress),
		)
		sh.address = overflow.AddressBuilder{
			Service:     opts.Service,
			Environment: opts.Environment,
			Extension:   policy.BlobExtension(),
		}
	}
	return sh, nil
}

// Metrics 는 shipper 가 쓰는 카운터를 반환한다.
func (s *Shipper) Metrics() *metrics.Metrics { return s.metrics }

// Log 는 엔트리를 비동기로 처리한다. 호출자는 결과를 기다리지 않는다.
func (s *Shipper) Log(e *model.LogEntry) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		atomic.AddInt64(&s.metrics.SendErrorsTotal, 1)
		s.log.Warn().Err(ErrClosed).Msg("log entry dropped")
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		s.Ship(context.Background(), e)
	}()
}

// Cancel 은 진행 중인 cancellable overflow 쓰기에 취소 신호를 보낸다.
func (s *Shipper) Cancel() overflow.CancellationResult {
	if s.writer == nil {
		return overflow.UnableToCancel
	}
	r := s.writer.Cancel()
	if r == overflow.Successful {
		atomic.AddInt64(&s.metrics.CancellationsTotal, 1)
	}
	return r
}

// Close
// ------------------------------------------------------------
// graceful shutdown:
//  1. 새 Log 호출 차단
//  2. 진행 중인 엔트리가 모두 끝날 때까지 대기 (ctx 만료 시 중단)
//  3. stream sender 종료
//
// ctx 가 먼저 끝나도 sender 는 닫는다. 남은 엔트리의 전송은 실패로 기록된다.
func (s *Shipper) Close(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("wait for in-flight entries: %w", ctx.Err())
		}

		if cerr := s.sender.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close stream: %w", cerr))
		}
	})
	return err
}
