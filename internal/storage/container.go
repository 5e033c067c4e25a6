package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
)

// ContainerStore
// ------------------------------------------------------------
// pre-signed container URL (SAS 방식) 아래에 blob 을 PUT 한다.
//
//	https://acct.blob.core.windows.net/logs?sv=...&sig=...
//	→ PUT https://acct.blob.core.windows.net/logs/<name>?sv=...&sig=...
//
// 인증 정보는 URL query 에 들어 있으므로 헤더 서명은 하지 않는다.
// If-None-Match: * 로 이미 존재하는 blob 은 덮어쓰지 않는다.
type ContainerStore struct {
	base   *url.URL
	client *fasthttp.Client
}

// NewContainerStore 는 rawURL 이 절대 http(s) URL 이어야 한다.
func NewContainerStore(rawURL string) (*ContainerStore, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse container url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("container url must be an absolute http(s) url")
	}
	return &ContainerStore{
		base:   u,
		client: &fasthttp.Client{Name: "logship"},
	}, nil
}

// blobURL 은 container path 뒤에 name 을 붙이고 SAS query 는 유지한다.
func (c *ContainerStore) blobURL(name string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name
	u.RawPath = ""
	return u.String()
}

type putResult struct {
	resp *Response
	err  error
}

// CreateBlob 은 Block Blob 1건을 PUT 한다.
// ctx 가 먼저 끝나면 ctx.Err() 를 반환하고, 진행 중 요청은 goroutine 안에서 정리된다.
func (c *ContainerStore) CreateBlob(ctx context.Context, name string, data []byte, contentEncoding string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := c.blobURL(name)
	done := make(chan putResult, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(target)
		req.Header.SetMethod(fasthttp.MethodPut)
		req.Header.SetContentType("application/json")
		req.Header.Set("x-ms-blob-type", "BlockBlob")
		req.Header.Set("If-None-Match", "*")
		if contentEncoding != "" {
			req.Header.Set("x-ms-blob-content-encoding", contentEncoding)
		}
		req.SetBody(data)

		var err error
		if deadline, ok := ctx.Deadline(); ok {
			err = c.client.DoDeadline(req, resp, deadline)
		} else {
			err = c.client.Do(req, resp)
		}
		if err != nil {
			done <- putResult{err: err}
			return
		}
		done <- putResult{resp: toResponse(resp)}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// toResponse 는 fasthttp 응답을 복사한다 (resp 는 반환 직후 재사용됨).
func toResponse(resp *fasthttp.Response) *Response {
	code := resp.StatusCode()

	reason := string(resp.Header.StatusMessage())
	if reason == "" {
		reason = fasthttp.StatusMessage(code)
	}

	header := http.Header{}
	resp.Header.VisitAll(func(k, v []byte) {
		header.Add(string(k), string(v))
	})

	token := header.Get("Content-MD5")
	if token == "" {
		token = header.Get("x-ms-content-crc64")
	}
	if token == "" {
		token = unquote(header.Get("ETag"))
	}

	return &Response{
		StatusCode:   code,
		ReasonPhrase: reason,
		RequestID:    header.Get("x-ms-request-id"),
		ContentToken: token,
		Header:       header,
	}
}
