package shipper

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"logship/internal/codec"
	"logship/internal/model"
	"logship/internal/overflow"
	"logship/internal/storage"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------
// fakes
// ---------------------------------------------------------------

type recordingSender struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
	panicMsg string
	closed   int32
	delay    time.Duration
}

func (r *recordingSender) Send(ctx context.Context, p []byte) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, append([]byte(nil), p...))
	return nil
}

func (r *recordingSender) Close() error {
	atomic.AddInt32(&r.closed, 1)
	return nil
}

func (r *recordingSender) sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.payloads...)
}

type stubStore struct {
	calls int32
	names []string
	resp  *storage.Response
	err   error
	block chan struct{}
}

func (s *stubStore) CreateBlob(ctx context.Context, name string, data []byte, enc string) (*storage.Response, error) {
	atomic.AddInt32(&s.calls, 1)
	s.names = append(s.names, name)
	if s.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.block:
		}
	}
	return s.resp, s.err
}

// ---------------------------------------------------------------
// helpers
// ---------------------------------------------------------------

var fixedNow = time.Date(2021, 1, 5, 9, 3, 7, 0, time.UTC)

func clock() time.Time { return fixedNow }

func policy(t *testing.T, enabled bool) *overflow.Policy {
	t.Helper()
	p, err := overflow.NewPolicy(enabled, overflow.ContainerURL{URL: "https://acct.blob.example.net/logs?sig=x"},
		overflow.DefaultSuccessTemplate, overflow.DefaultFailureTemplate)
	require.NoError(t, err)
	return p
}

func newShipper(t *testing.T, sender *recordingSender, p *overflow.Policy, store storage.BlobStore, opts Options, extra ...Option) *Shipper {
	t.Helper()
	if opts.Service == "" {
		opts.Service, opts.Environment = "billing", "dev"
	}
	options := append([]Option{WithClock(clock), WithLogger(zerolog.Nop())}, extra...)
	sh, err := New(sender, p, store, opts, options...)
	require.NoError(t, err)
	return sh
}

// entryOfSize 는 직렬화 결과가 정확히 size 바이트가 되는 엔트리를 만든다.
func entryOfSize(t *testing.T, size int) *model.LogEntry {
	t.Helper()
	props := model.NewProperties()
	props.Set("Order", 42)
	e := &model.LogEntry{
		Timestamp:  fixedNow,
		Level:      "Information",
		EventID:    model.EventID{ID: 1, Name: "Big"},
		Properties: props,
	}
	base, err := codec.New().Marshal(e)
	require.NoError(t, err)
	e.MessageTemplate = strings.Repeat("a", size-len(base))

	out, err := codec.New().Marshal(e)
	require.NoError(t, err)
	require.Len(t, out, size)
	return e
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

// ---------------------------------------------------------------
// scenarios
// ---------------------------------------------------------------

func TestExactThresholdWithStorage(t *testing.T) {
	sender := &recordingSender{}
	h := http.Header{}
	h.Set("Date", "Tue, 05 Jan 2021 09:03:08 GMT")
	store := &stubStore{resp: storage.Created("req-1", "sha", h)}
	sh := newShipper(t, sender, policy(t, true), store, Options{ThresholdMB: 1})

	e := entryOfSize(t, 1024*1024)
	out := sh.Ship(context.Background(), e)

	require.NoError(t, out.Err)
	assert.Equal(t, overflow.OverflowWithStorage, out.Classification)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.calls))
	require.NotNil(t, out.Write)
	assert.True(t, out.Write.IsStored)
	assert.True(t, strings.HasPrefix(store.names[0], "billing - dev/2021/1/5/9/3/7/"))
	assert.True(t, strings.HasSuffix(store.names[0], ".json"))

	sent := sender.sent()
	require.Len(t, sent, 1)
	doc := decode(t, sent[0])
	tmpl := doc["MessageTemplate"].(string)
	prefix := overflow.DefaultSuccessTemplate[:strings.Index(overflow.DefaultSuccessTemplate, "{{")]
	assert.True(t, strings.HasPrefix(tmpl, prefix), tmpl)
	assert.Contains(t, tmpl, store.names[0])
	assert.Nil(t, doc["Properties"])
	assert.Less(t, len(sent[0]), 1024*1024)

	// 원본 엔트리는 그대로
	assert.Equal(t, 1, e.Properties.Len())
	assert.True(t, strings.HasPrefix(e.MessageTemplate, "aaa"))

	m := sh.Metrics()
	assert.EqualValues(t, 1, m.OverflowStoredTotal)
	assert.EqualValues(t, 1024*1024, m.OverflowBytesTotal)
	assert.EqualValues(t, 1, m.EntriesSentTotal)
}

func TestExactThresholdStorageDisabled(t *testing.T) {
	sender := &recordingSender{}
	store := &stubStore{resp: storage.Created("req-1", "sha", nil)}
	sh := newShipper(t, sender, policy(t, false), store, Options{ThresholdMB: 1})

	e := entryOfSize(t, 1024*1024)
	out := sh.Ship(context.Background(), e)

	require.NoError(t, out.Err)
	assert.Equal(t, overflow.OverflowNoStorage, out.Classification)
	assert.Zero(t, atomic.LoadInt32(&store.calls))
	assert.Nil(t, out.Write)

	sent := sender.sent()
	require.Len(t, sent, 1)
	doc := decode(t, sent[0])
	assert.Contains(t, doc["MessageTemplate"].(string), e.MessageTemplate[:256])
	assert.Equal(t, "Warning", doc["Level"])
	assert.EqualValues(t, 1, sh.Metrics().OverflowWarningsTotal)
}

func TestNilPolicyBehavesAsDisabled(t *testing.T) {
	sender := &recordingSender{}
	sh := newShipper(t, sender, nil, nil, Options{})

	out := sh.Ship(context.Background(), entryOfSize(t, 1024*1024+10))
	require.NoError(t, out.Err)
	assert.Equal(t, overflow.OverflowNoStorage, out.Classification)
	assert.Equal(t, overflow.UnableToCancel, sh.Cancel())
}

func TestBelowThresholdSentUnchanged(t *testing.T) {
	sender := &recordingSender{}
	store := &stubStore{}
	sh := newShipper(t, sender, policy(t, true), store, Options{ThresholdMB: 1})

	e := entryOfSize(t, 512*1024)
	want, err := codec.New().Marshal(e)
	require.NoError(t, err)

	out := sh.Ship(context.Background(), e)
	require.NoError(t, out.Err)
	assert.Equal(t, overflow.NoOverflow, out.Classification)
	assert.Zero(t, atomic.LoadInt32(&store.calls))

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, want, sent[0])
}

func TestStorageFailureSendsFailureTemplate(t *testing.T) {
	sender := &recordingSender{}
	store := &stubStore{err: errors.New("connection reset")}
	sh := newShipper(t, sender, policy(t, true), store, Options{})

	out := sh.Ship(context.Background(), entryOfSize(t, 1024*1024))
	require.NoError(t, out.Err)
	require.NotNil(t, out.Write)
	assert.False(t, out.Write.IsStored)

	doc := decode(t, sender.sent()[0])
	tmpl := doc["MessageTemplate"].(string)
	assert.True(t, strings.HasPrefix(tmpl, "Overflow Storage Logging: Storing blob failed."), tmpl)
	assert.Contains(t, tmpl, "ResponseMessage: errors.errorString-connection reset ResponseCode: 0")
	assert.EqualValues(t, 1, sh.Metrics().OverflowStoreFailedTotal)
}

type secret struct{ V string }

func TestConverterFailureSendsFallback(t *testing.T) {
	sender := &recordingSender{}
	failing := codec.ConverterFunc(func(secret) (any, error) { return nil, errors.New("no") })
	sh := newShipper(t, sender, nil, nil, Options{}, WithCodec(codec.New(codec.WithConverters(failing))))

	props := model.NewProperties()
	props.Set("s", secret{V: "x"})
	e := &model.LogEntry{Timestamp: fixedNow, Level: "Information", MessageTemplate: "m", Properties: props}

	out := sh.Ship(context.Background(), e)
	require.NoError(t, out.Err)
	assert.True(t, out.Fallback)

	doc := decode(t, sender.sent()[0])
	assert.Equal(t, FallbackLevel, doc["Level"])
	assert.Equal(t, FallbackTemplate, doc["MessageTemplate"])
	assert.Equal(t, map[string]any{"Id": float64(7437), "Name": "LogSerializationException"}, doc["EventId"])
	assert.Contains(t, doc["Exception"].(map[string]any)["Message"], "converter failed")
	assert.EqualValues(t, 1, sh.Metrics().SerializationFallbacksTotal)
}

func TestNilEntryFallsBack(t *testing.T) {
	sender := &recordingSender{}
	sh := newShipper(t, sender, nil, nil, Options{})

	out := sh.Ship(context.Background(), nil)
	require.NoError(t, out.Err)
	assert.True(t, out.Fallback)
	assert.Equal(t, "2021-01-05T09:03:07Z", decode(t, sender.sent()[0])["Timestamp"])
}

func TestUnencodableTimestampFallsBackWithNow(t *testing.T) {
	sender := &recordingSender{}
	sh := newShipper(t, sender, nil, nil, Options{})

	e := &model.LogEntry{
		Timestamp:       time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
		Level:           "Information",
		MessageTemplate: "far future",
	}
	out := sh.Ship(context.Background(), e)
	require.NoError(t, out.Err)
	assert.True(t, out.Fallback)
	assert.True(t, out.Sent)

	doc := decode(t, sender.sent()[0])
	assert.Equal(t, FallbackTemplate, doc["MessageTemplate"])
	assert.Equal(t, "2021-01-05T09:03:07Z", doc["Timestamp"])
}

func TestFallbackEntryKeepsEncodableTimestamp(t *testing.T) {
	orig := time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC)
	fb := FallbackEntry(&model.LogEntry{Timestamp: orig}, errors.New("x"), clock)
	assert.Equal(t, orig, fb.Timestamp)

	fb = FallbackEntry(&model.LogEntry{Timestamp: time.Date(-1, 1, 1, 0, 0, 0, 0, time.UTC)}, errors.New("x"), clock)
	assert.Equal(t, fixedNow, fb.Timestamp)
}

func TestSendErrorIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("broker down")}
	sh := newShipper(t, sender, nil, nil, Options{})

	out := sh.Ship(context.Background(), entryOfSize(t, 1024))
	require.Error(t, out.Err)
	assert.False(t, out.Sent)
	assert.Contains(t, out.Err.Error(), "broker down")
	assert.EqualValues(t, 1, sh.Metrics().SendErrorsTotal)

	assert.NotPanics(t, func() { sh.Log(entryOfSize(t, 1024)) })
	require.NoError(t, sh.Close(context.Background()))
	assert.EqualValues(t, 2, sh.Metrics().SendErrorsTotal)
}

func TestSenderPanicIsRecovered(t *testing.T) {
	sender := &recordingSender{panicMsg: "kaboom"}
	sh := newShipper(t, sender, nil, nil, Options{})

	var out Outcome
	require.NotPanics(t, func() { out = sh.Ship(context.Background(), entryOfSize(t, 1024)) })
	var pe *PanicError
	require.ErrorAs(t, out.Err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestLogAndClose(t *testing.T) {
	sender := &recordingSender{delay: 10 * time.Millisecond}
	sh := newShipper(t, sender, nil, nil, Options{})

	for i := 0; i < 20; i++ {
		sh.Log(entryOfSize(t, 1024))
	}
	require.NoError(t, sh.Close(context.Background()))
	assert.Len(t, sender.sent(), 20)
	assert.EqualValues(t, 1, atomic.LoadInt32(&sender.closed))

	// Close 이후는 버려진다, Close 는 한 번만 동작
	sh.Log(entryOfSize(t, 1024))
	assert.Len(t, sender.sent(), 20)
	require.NoError(t, sh.Close(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&sender.closed))
}

func TestCloseHonorsContext(t *testing.T) {
	sender := &recordingSender{delay: 200 * time.Millisecond}
	sh := newShipper(t, sender, nil, nil, Options{})
	sh.Log(entryOfSize(t, 1024))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sh.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&sender.closed))
}

func TestCancelInFlightOverflowWrite(t *testing.T) {
	sender := &recordingSender{}
	store := &stubStore{resp: storage.Created("r", "t", nil), block: make(chan struct{})}
	sh := newShipper(t, sender, policy(t, true), store, Options{CancellableWrites: true})

	done := make(chan Outcome, 1)
	go func() { done <- sh.Ship(context.Background(), entryOfSize(t, 1024*1024)) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&store.calls) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, overflow.Successful, sh.Cancel())
	assert.NotEqual(t, overflow.Successful, sh.Cancel())

	out := <-done
	require.NoError(t, out.Err)
	require.NotNil(t, out.Write)
	assert.False(t, out.Write.IsStored)
	assert.Contains(t, out.Write.ReasonPhrase, "context canceled")
	assert.EqualValues(t, 1, sh.Metrics().CancellationsTotal)

	doc := decode(t, sender.sent()[0])
	assert.True(t, strings.HasPrefix(doc["MessageTemplate"].(string), "Overflow Storage Logging: Storing blob failed."))
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, nil, Options{})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = New(&recordingSender{}, policy(t, true), nil, Options{})
	assert.ErrorIs(t, err, overflow.ErrInvalidPolicy)

	sh, err := New(&recordingSender{}, policy(t, true), &stubStore{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sh.opts.ThresholdMB)
}

func TestCompressedOverflowUsesGzExtension(t *testing.T) {
	p, err := overflow.NewPolicy(true, overflow.ContainerURL{URL: "https://h/c"},
		overflow.DefaultSuccessTemplate, overflow.DefaultFailureTemplate, overflow.WithCompression())
	require.NoError(t, err)

	store := &stubStore{resp: storage.Created("r", "t", nil)}
	sh := newShipper(t, &recordingSender{}, p, store, Options{})

	out := sh.Ship(context.Background(), entryOfSize(t, 1024*1024))
	require.NoError(t, out.Err)
	assert.True(t, strings.HasSuffix(store.names[0], ".json.gz"))
	assert.Less(t, out.Write.FileSize, int64(1024*1024))
}
