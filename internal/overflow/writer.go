package overflow

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"logship/internal/codec"
	"logship/internal/model"
	"logship/internal/pool"
	"logship/internal/storage"

	"github.com/google/uuid"
)

// Writer
// ------------------------------------------------------------
// overflow payload 를 BlobStore 에 1회 쓰고 결과를 StorageWriteResult 로 보고한다.
//
//   - 에러를 반환하지 않는다. 실패도 결과(IsStored=false)로 표현한다.
//   - 재시도하지 않는다.
//   - timeout 은 쓰기 1회당 ctx deadline 으로 적용한다.
//
// 여러 goroutine 에서 동시에 써도 되지만,
// cancellable 쓰기의 취소 slot 은 하나뿐이다 (Canceller 참고).
type Writer struct {
	store     storage.BlobStore
	canceller Canceller
	timeout   time.Duration
	compress  bool
}

type WriterOption func(*Writer)

// WithTimeout 은 쓰기 1회의 최대 시간. 0 이면 caller ctx 만 따른다.
func WithTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.timeout = d }
}

// WithGzip 은 payload 를 gzip 으로 압축해서 쓴다.
func WithGzip(enabled bool) WriterOption {
	return func(w *Writer) { w.compress = enabled }
}

func NewWriter(store storage.BlobStore, opts ...WriterOption) *Writer {
	w := &Writer{store: store}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Cancel 은 마지막으로 시작된 cancellable 쓰기에 취소 신호를 보낸다.
func (w *Writer) Cancel() CancellationResult {
	return w.canceller.Cancel()
}

// Write 는 동기 버전이다.
func (w *Writer) Write(ctx context.Context, address string, payload []byte, withCancellation bool) model.StorageWriteResult {
	wctx, done := w.begin(ctx, withCancellation)
	defer done()
	return w.write(wctx, address, payload)
}

// WriteAsync 는 Write 와 같은 의미이며 결과를 채널로 1번 보낸다.
// 취소 slot 은 반환 전에 bind 되므로 바로 Cancel() 해도 이 쓰기가 대상이 된다.
func (w *Writer) WriteAsync(ctx context.Context, address string, payload []byte, withCancellation bool) <-chan model.StorageWriteResult {
	out := make(chan model.StorageWriteResult, 1)
	wctx, done := w.begin(ctx, withCancellation)

	go func() {
		defer close(out)
		defer done()
		out <- w.write(wctx, address, payload)
	}()
	return out
}

// begin 은 쓰기에 쓸 ctx 를 준비한다.
//   - withCancellation: 새 cancel source 를 slot 에 bind
//   - 아니면 caller 취소가 전파되지 않는 ctx (값은 유지)
func (w *Writer) begin(ctx context.Context, withCancellation bool) (context.Context, func()) {
	if !withCancellation {
		return context.WithoutCancel(ctx), func() {}
	}
	wctx, src := w.canceller.bind(ctx)
	return wctx, func() { w.canceller.release(src) }
}

func (w *Writer) write(ctx context.Context, address string, payload []byte) (res model.StorageWriteResult) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(address, &PanicError{Value: r})
		}
	}()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	data, encoding := payload, ""
	if w.compress {
		gz, err := pool.Gzip(payload)
		if err != nil {
			return failure(address, err)
		}
		data, encoding = gz, "gzip"
	}

	resp, err := w.store.CreateBlob(ctx, address, data, encoding)
	if err != nil {
		return failure(address, err)
	}
	if resp == nil {
		return failure(address, fmt.Errorf("storage returned no response"))
	}
	return fromResponse(address, resp, int64(len(data)))
}

// PanicError 는 저장소 호출 중 발생한 panic 을 에러로 감싼다.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// failure: 응답을 받지 못한 쓰기.
// reason = "{에러 타입}-{메시지}", status 0, request id = nil UUID
func failure(address string, err error) model.StorageWriteResult {
	return model.StorageWriteResult{
		ReasonPhrase: codec.TypeName(err) + "-" + err.Error(),
		StatusCode:   0,
		RequestID:    uuid.Nil.String(),
		IsStored:     false,
		BlobFullName: address,
	}
}

// fromResponse
// ------------------------------------------------------------
// IsStored 는 status 201 과 reason "Created" 가 모두 맞을 때만 true.
// 성공일 때만 크기/수정시각을 채운다.
//   - 크기: Content-Length (없거나 0 이거나 파싱 실패 → 실제로 쓴 바이트 수)
//   - 수정시각: Last-Modified, 없으면 Date (둘 다 실패 → nil)
func fromResponse(address string, resp *storage.Response, written int64) model.StorageWriteResult {
	res := model.StorageWriteResult{
		ReasonPhrase: resp.ReasonPhrase,
		StatusCode:   resp.StatusCode,
		RequestID:    resp.RequestID,
		ContentToken: resp.ContentToken,
		BlobFullName: address,
	}
	res.IsStored = resp.StatusCode == http.StatusCreated &&
		resp.ReasonPhrase == http.StatusText(http.StatusCreated)

	if !res.IsStored {
		return res
	}

	res.FileSize = written
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		res.FileSize = n
	}

	for _, h := range []string{"Last-Modified", "Date"} {
		v := resp.Header.Get(h)
		if v == "" {
			continue
		}
		if t, err := http.ParseTime(v); err == nil {
			t = t.UTC()
			res.ModifiedDate = &t
			break
		}
	}
	return res
}
