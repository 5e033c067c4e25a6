package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu     sync.Mutex
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

func (c *captured) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.path = r.URL.Path
	c.query = r.URL.RawQuery
	c.header = r.Header.Clone()
	c.body, _ = io.ReadAll(r.Body)
}

func TestContainerStoreCreated(t *testing.T) {
	var got captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.record(r)
		w.Header().Set("x-ms-request-id", "req-1")
		w.Header().Set("Content-MD5", "bWQ1")
		w.Header().Set("Last-Modified", "Tue, 05 Jan 2021 09:03:07 GMT")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store, err := NewContainerStore(srv.URL + "/logs?sv=2020&sig=abc")
	require.NoError(t, err)

	resp, err := store.CreateBlob(context.Background(), "svc - dev/2021/1/5/9/3/7/a_b.json", []byte(`{"a":1}`), "gzip")
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Created", resp.ReasonPhrase)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "bWQ1", resp.ContentToken)
	assert.Equal(t, "Tue, 05 Jan 2021 09:03:07 GMT", resp.Header.Get("Last-Modified"))

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/logs/svc - dev/2021/1/5/9/3/7/a_b.json", got.path)
	assert.Equal(t, "sv=2020&sig=abc", got.query)
	assert.Equal(t, "BlockBlob", got.header.Get("x-ms-blob-type"))
	assert.Equal(t, "*", got.header.Get("If-None-Match"))
	assert.Equal(t, "gzip", got.header.Get("x-ms-blob-content-encoding"))
	assert.Equal(t, `{"a":1}`, string(got.body))
}

func TestContainerStoreRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ms-request-id", "req-409")
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	store, err := NewContainerStore(srv.URL + "/logs")
	require.NoError(t, err)

	resp, err := store.CreateBlob(context.Background(), "a/b/c.json", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Conflict", resp.ReasonPhrase)
	assert.Equal(t, "req-409", resp.RequestID)
}

func TestContainerStoreContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	defer close(release)

	store, err := NewContainerStore(srv.URL + "/logs")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = store.CreateBlob(ctx, "a/b/c.json", []byte("x"), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewContainerStoreRejectsRelativeURL(t *testing.T) {
	for _, raw := range []string{"logs/container", "ftp://host/logs", "://bad"} {
		_, err := NewContainerStore(raw)
		assert.Error(t, err, raw)
	}
}

func newTestS3(t *testing.T, h http.HandlerFunc) *S3Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewS3Store(S3Options{
		Endpoint:    srv.URL,
		Bucket:      "overflow",
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	})
}

func TestS3StoreNormalizesCreated(t *testing.T) {
	var got captured
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		got.record(r)
		w.Header().Set("x-amz-request-id", "s3-req")
		w.Header().Set("ETag", `"etag-1"`)
		w.Header().Set("Date", "Tue, 05 Jan 2021 09:03:07 GMT")
		w.WriteHeader(http.StatusOK)
	})

	resp, err := store.CreateBlob(context.Background(), "svc - dev/2021/1/5/9/3/7/a_b.json", []byte(`{"a":1}`), "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Created", resp.ReasonPhrase)
	assert.Equal(t, "s3-req", resp.RequestID)
	assert.Equal(t, "etag-1", resp.ContentToken)
	assert.Equal(t, "Tue, 05 Jan 2021 09:03:07 GMT", resp.Header.Get("Date"))

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/overflow/svc - dev/2021/1/5/9/3/7/a_b.json", got.path)
	assert.Equal(t, "*", got.header.Get("If-None-Match"))
}

func TestS3StoreMapsHTTPErrorToRejection(t *testing.T) {
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("x-amz-request-id", "s3-412")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message><RequestId>s3-412</RequestId></Error>`)
	})

	resp, err := store.CreateBlob(context.Background(), "a/b/c.json", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "Precondition Failed", resp.ReasonPhrase)
	assert.Equal(t, "s3-412", resp.RequestID)
}

func TestS3StoreTransportErrorIsReturned(t *testing.T) {
	store := NewS3Store(S3Options{
		Endpoint:    "http://127.0.0.1:1",
		Bucket:      "overflow",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := store.CreateBlob(ctx, "a/b/c.json", []byte("x"), "")
	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestReasonFromStatus(t *testing.T) {
	assert.Equal(t, "Precondition Failed", reasonFromStatus(412, "412 Precondition Failed"))
	assert.Equal(t, "Created", reasonFromStatus(201, ""))
	assert.Equal(t, "Custom", reasonFromStatus(409, "409 Custom"))
}
