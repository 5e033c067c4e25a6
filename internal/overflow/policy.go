package overflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"logship/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// ErrInvalidPolicy 는 overflow 설정이 잘못되었을 때 (생성 시점) 반환된다.
var ErrInvalidPolicy = errors.New("overflow: invalid policy")

// 기본 메시지 템플릿.
// {{...}} placeholder 는 StorageWriteResult 필드 값으로 치환된다 (rewrite.go 참고).
const (
	DefaultSuccessTemplate = "Overflow Storage Logging: A blob with the error details was created at {{BlobFullName}}. " +
		"Reason: ErrorMessageEqualOrGreaterTo1MB ResponseMessage: {{ReasonPhrase}} ResponseCode: {{StatusCode}} " +
		"RequestId: {{RequestId}} Sha256: {{FileSHA}} FileSize(Bs): {{FileSize}} FileModifiedDate: {{ModifiedDate}}"

	DefaultFailureTemplate = "Overflow Storage Logging: Storing blob failed. " +
		"Reason: ErrorMessageEqualOrGreaterTo1MB ResponseMessage: {{ReasonPhrase}} ResponseCode: {{StatusCode}} " +
		"RequestId: {{RequestId}}"
)

// StorageAuth
// ------------------------------------------------------------
// 저장소 접속 방식. 아래 두 가지 중 하나만 가능하다.
//
//   - ContainerURL : pre-signed container URL (인증 정보가 URL 에 포함)
//   - Identity     : endpoint + credential (S3 호환 저장소)
type StorageAuth interface {
	validate() error
}

// ContainerURL 은 SAS 방식의 pre-signed container URL.
type ContainerURL struct {
	URL string
}

func (a ContainerURL) validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return errors.New("container url is empty")
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("container url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("container url %q is not an absolute http(s) url", u.Redacted())
	}
	return nil
}

// Identity 는 credential 기반 접속 정보.
// Endpoint 가 비어 있으면 AWS 기본 endpoint 를 쓴다.
type Identity struct {
	Endpoint   string
	Bucket     string
	Region     string
	Credential aws.CredentialsProvider
}

func (a Identity) validate() error {
	var problems []string
	if strings.TrimSpace(a.Bucket) == "" {
		problems = append(problems, "bucket is empty")
	}
	if a.Credential == nil {
		problems = append(problems, "credential is missing")
	}
	if a.Endpoint != "" {
		u, err := url.Parse(a.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q is not an absolute http(s) url", a.Endpoint))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, ", "))
	}
	return nil
}

// Policy
// ------------------------------------------------------------
// overflow 저장 on/off 와 저장소 접속 정보, 성공/실패 템플릿 묶음.
// NewPolicy 로만 만들며, 만들어진 뒤에는 읽기 전용이다.
type Policy struct {
	Enabled         bool
	Auth            StorageAuth
	SuccessTemplate string
	FailureTemplate string
	Extension       string // blob 확장자 (기본 json)
	Compress        bool   // blob 을 gzip 으로 저장
}

type PolicyOption func(*Policy)

func WithExtension(ext string) PolicyOption {
	return func(p *Policy) { p.Extension = strings.TrimPrefix(ext, ".") }
}

// WithCompression 은 blob 을 gzip 으로 저장하고 확장자에 ".gz" 를 붙인다.
func WithCompression() PolicyOption {
	return func(p *Policy) { p.Compress = true }
}

// authMissing 은 nil interface 와 nil pointer variant 를 모두 "없음" 으로 본다.
func authMissing(a StorageAuth) bool {
	switch v := a.(type) {
	case nil:
		return true
	case *ContainerURL:
		return v == nil
	case *Identity:
		return v == nil
	}
	return false
}

// NewPolicy
// ------------------------------------------------------------
// 템플릿은 항상 비어 있지 않아야 한다.
// enabled 일 때만 auth 를 검증하고, disabled 면 auth 는 보지 않는다.
// 문제가 여러 개면 모두 모아서 하나의 에러로 반환한다.
func NewPolicy(enabled bool, auth StorageAuth, successTemplate, failureTemplate string, opts ...PolicyOption) (*Policy, error) {
	var problems []string
	if strings.TrimSpace(successTemplate) == "" {
		problems = append(problems, "success template is empty")
	}
	if strings.TrimSpace(failureTemplate) == "" {
		problems = append(problems, "failure template is empty")
	}
	if enabled {
		if authMissing(auth) {
			problems = append(problems, "storage auth is missing")
		} else if err := auth.validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(problems, "; "))
	}

	p := &Policy{
		Enabled:         enabled,
		Auth:            auth,
		SuccessTemplate: successTemplate,
		FailureTemplate: failureTemplate,
		Extension:       DefaultExtension,
	}
	for _, o := range opts {
		o(p)
	}
	if p.Extension == "" {
		p.Extension = DefaultExtension
	}
	return p, nil
}

// BlobExtension 은 압축 여부까지 반영한 최종 확장자.
func (p *Policy) BlobExtension() string {
	if p.Compress {
		return p.Extension + ".gz"
	}
	return p.Extension
}

// OpenStore 는 policy 의 auth 종류에 맞는 BlobStore 를 만든다.
// disabled policy 에는 저장소를 만들지 않는다 (nil, nil).
func OpenStore(ctx context.Context, p *Policy) (storage.BlobStore, error) {
	if p == nil || !p.Enabled {
		return nil, nil
	}
	if authMissing(p.Auth) {
		return nil, fmt.Errorf("%w: storage auth is missing", ErrInvalidPolicy)
	}
	switch a := p.Auth.(type) {
	case ContainerURL:
		return openContainer(a)
	case *ContainerURL:
		return openContainer(*a)
	case Identity:
		return openS3(ctx, a)
	case *Identity:
		return openS3(ctx, *a)
	}
	return nil, fmt.Errorf("%w: unsupported storage auth %T", ErrInvalidPolicy, p.Auth)
}

func openContainer(a ContainerURL) (storage.BlobStore, error) {
	cs, err := storage.NewContainerStore(a.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return cs, nil
}

func openS3(ctx context.Context, a Identity) (storage.BlobStore, error) {
	if a.Credential != nil {
		// 자격증명이 실제로 풀리는지 생성 시점에 확인 (fail-fast)
		if _, err := a.Credential.Retrieve(ctx); err != nil {
			return nil, fmt.Errorf("%w: retrieve credentials: %w", ErrInvalidPolicy, err)
		}
	}
	return storage.NewS3Store(storage.S3Options{
		Endpoint:    a.Endpoint,
		Bucket:      a.Bucket,
		Region:      a.Region,
		Credentials: a.Credential,
	}), nil
}
