package storage

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Options 는 identity 기반 저장소 접속 정보이다.
// Endpoint 가 비어 있으면 AWS 기본 endpoint, 값이 있으면 S3 호환 저장소(path-style).
type S3Options struct {
	Endpoint    string
	Bucket      string
	Region      string
	Credentials aws.CredentialsProvider
}

// S3Store 는 S3 (또는 S3 호환) 버킷에 overflow blob 을 쓴다.
//   - 내부적으로 AWS SDK v2 client 사용
//   - SDK 재시도는 끈다 (1회 쓰기 결과를 그대로 보고)
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store 는 static/default credential provider 로 S3 client 를 생성한다.
func NewS3Store(opts S3Options) *S3Store {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(opts.Credentials),
	}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		o.Retryer = aws.NopRetryer{}
	})

	return &S3Store{client: client, bucket: opts.Bucket}
}

// CreateBlob
// ---------
// 실제 AWS S3 PutObject 호출을 수행한다.
//   - If-None-Match: * → 같은 key 가 이미 있으면 412 로 거절 (create-if-absent)
//   - SHA256 checksum 을 요청하고, 응답의 checksum 을 content token 으로 쓴다
//
// S3 는 생성 성공 시 200 OK 를 주지만 조건부 생성이 성공한 것이므로
// Azure blob 과 같은 의미인 201 Created 로 정규화한다.
// HTTP 에러 응답(4xx/5xx)은 err 가 아니라 거절 Response 로 돌려준다.
func (s *S3Store) CreateBlob(ctx context.Context, name string, data []byte, contentEncoding string) (*Response, error) {
	in := &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(name),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String("application/json"),
		IfNoneMatch:       aws.String("*"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if contentEncoding != "" {
		in.ContentEncoding = aws.String(contentEncoding)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if resp, ok := rejection(err); ok {
			return resp, nil
		}
		return nil, err
	}

	header := http.Header{}
	if raw, ok := awsmiddleware.GetRawResponse(out.ResultMetadata).(*smithyhttp.Response); ok && raw != nil && raw.Response != nil {
		header = raw.Header.Clone()
	}
	requestID, _ := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata)

	token := aws.ToString(out.ChecksumSHA256)
	if token == "" {
		token = unquote(aws.ToString(out.ETag))
	}

	return Created(requestID, token, header), nil
}

// rejection 은 SDK 에러 체인에서 HTTP 응답을 꺼내 Response 로 바꾼다.
// 응답을 받지 못한 에러면 ok=false.
func rejection(err error) (*Response, bool) {
	var re *smithyhttp.ResponseError
	if !errors.As(err, &re) || re.Response == nil || re.Response.Response == nil {
		return nil, false
	}
	raw := re.Response.Response

	resp := &Response{
		StatusCode:   raw.StatusCode,
		ReasonPhrase: reasonFromStatus(raw.StatusCode, raw.Status),
		Header:       raw.Header.Clone(),
	}

	var s3err s3.ResponseError
	if errors.As(err, &s3err) {
		resp.RequestID = s3err.ServiceRequestID()
	}

	// status line 이 비어 있는 비표준 응답이면 API 에러 코드로 보완
	var apiErr smithy.APIError
	if raw.Status == "" && errors.As(err, &apiErr) {
		resp.ReasonPhrase = apiErr.ErrorCode()
	}
	return resp, true
}
