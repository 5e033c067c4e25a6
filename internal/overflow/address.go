package overflow

import (
	"strconv"
	"strings"
	"time"

	"logship/internal/model"

	"github.com/google/uuid"
)

// address.go
// ------------------------------------------------------------
// overflow blob 이름 규칙.
//
//	<service> - <environment>/<Y>/<M>/<D>/<h>/<m>/<s>/<uuid>.<ext>
//
// 예:
//
//	billing - prod/2021/1/5/9/3/7/6f1c2a4e_0b7d_4c3e_9a51_2f3b8c1d0e9f.json
//
// 날짜 세그먼트는 zero-padding 하지 않는다 (기존 저장소 경로와 호환).
// 사전순 정렬이 곧 시간순은 아니므로 소비자는 세그먼트를 숫자로 해석해야 한다.
// 같은 초에 여러 건이 와도 파일명이 UUID 이므로 충돌하지 않는다.

// DefaultExtension 은 확장자를 지정하지 않았을 때 쓰는 값 (payload 가 JSON 이므로)
const DefaultExtension = "json"

// ServiceQualifier 는 "{service} - {environment}" 를 만든다.
// 표시/분류용 라벨이라 입력을 검증하거나 escape 하지 않는다.
func ServiceQualifier(service, environment string) string {
	return service + " - " + environment
}

// DatePath 는 year/month/day/hour/minute/second 6개 세그먼트.
func DatePath(t time.Time) string {
	parts := [6]string{
		strconv.Itoa(t.Year()),
		strconv.Itoa(int(t.Month())),
		strconv.Itoa(t.Day()),
		strconv.Itoa(t.Hour()),
		strconv.Itoa(t.Minute()),
		strconv.Itoa(t.Second()),
	}
	return strings.Join(parts[:], model.PathSeparator)
}

// FileName
// ------------------------------------------------------------
// id 가 nil 이면 새 random UUID 를 만든다.
// UUID 의 "-" 는 모두 "_" 로 바꾸고 "." + ext 를 붙인다.
// ext 가 비어 있으면 DefaultExtension. 앞쪽 "." 은 중복되지 않게 제거한다.
func FileName(id *uuid.UUID, ext string) string {
	u := uuid.New()
	if id != nil {
		u = *id
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return strings.ReplaceAll(u.String(), "-", "_") + "." + ext
}

// FullAddress 는 세 부분을 "/" 로 합친다.
// 어느 하나라도 비어 있으면 model.ErrInvalidArgument.
func FullAddress(qualifier, datePath, fileName string) (string, error) {
	a, err := model.NewBlobAddress(qualifier, datePath, fileName)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}

// AddressBuilder 는 policy 의 확장자 설정을 담아 BlobAddress 를 만든다.
type AddressBuilder struct {
	Service     string
	Environment string
	Extension   string
}

// Build 는 timestamp 기준으로 새 주소를 만든다 (매 호출마다 새 UUID).
func (b AddressBuilder) Build(t time.Time) (model.BlobAddress, error) {
	return model.NewBlobAddress(
		ServiceQualifier(b.Service, b.Environment),
		DatePath(t),
		FileName(nil, b.Extension),
	)
}
