package storage

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// BlobStore
// ------------------------------------------------------------
// overflow payload 를 저장하는 side-channel.
//
// CreateBlob 은 "없을 때만 생성(create-if-absent)" 으로 1회 쓰기만 수행한다.
// 재시도는 하지 않는다.
//
//   - 저장소가 응답했으면 (성공이든 거절이든) *Response, nil
//   - 응답 자체를 받지 못했으면 (네트워크, 인증서, ctx 취소 등) nil, err
type BlobStore interface {
	CreateBlob(ctx context.Context, name string, data []byte, contentEncoding string) (*Response, error)
}

// Response 는 저장소 응답 중 overflow 결과 구성에 필요한 부분만 담는다.
type Response struct {
	StatusCode   int
	ReasonPhrase string
	RequestID    string
	ContentToken string      // content hash (SHA256/MD5) 또는 ETag
	Header       http.Header // Content-Length, Date, Last-Modified 등
}

// Created 는 201 Created 응답을 만든다.
func Created(requestID, contentToken string, header http.Header) *Response {
	return &Response{
		StatusCode:   http.StatusCreated,
		ReasonPhrase: http.StatusText(http.StatusCreated),
		RequestID:    requestID,
		ContentToken: contentToken,
		Header:       header,
	}
}

// reasonFromStatus 는 "412 Precondition Failed" 형태의 status line 에서
// reason phrase 만 떼어낸다. 비어 있으면 표준 문구를 쓴다.
func reasonFromStatus(code int, status string) string {
	reason := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if reason == "" {
		return http.StatusText(code)
	}
	return reason
}

func unquote(etag string) string {
	return strings.Trim(etag, `"`)
}
