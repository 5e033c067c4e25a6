package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidArgument 는 필수 인자가 비어있을 때 반환된다.
// 호출자가 복구할 상황이 아니라 전제조건 위반이다.
var ErrInvalidArgument = errors.New("invalid argument")

// PathSeparator 는 blob 이름의 계층 구분자.
// 저장소 key 이므로 OS 와 무관하게 항상 "/" 를 쓴다.
const PathSeparator = "/"

// BlobAddress
// ------------------------------------------------------------
// overflow blob 의 전체 이름을 구성하는 세 부분.
//
//	<service qualifier>/<date path>/<file name>
//
// 예: "billing - prod/2024/1/5/9/3/7/6f1c..._a1.json"
//
// overflow 1건마다 한 번 만들어 String() 으로 합친 뒤 버린다.
type BlobAddress struct {
	Qualifier string // "{service} - {environment}"
	DatePath  string // year/month/day/hour/minute/second (zero-padding 없음)
	FileName  string // "{uuid(- → _)}.{ext}"
}

// NewBlobAddress 는 세 부분이 모두 비어있지 않아야 한다.
func NewBlobAddress(qualifier, datePath, fileName string) (BlobAddress, error) {
	switch {
	case qualifier == "":
		return BlobAddress{}, fmt.Errorf("%w: service qualifier is empty", ErrInvalidArgument)
	case datePath == "":
		return BlobAddress{}, fmt.Errorf("%w: date path is empty", ErrInvalidArgument)
	case fileName == "":
		return BlobAddress{}, fmt.Errorf("%w: file name is empty", ErrInvalidArgument)
	}
	return BlobAddress{Qualifier: qualifier, DatePath: datePath, FileName: fileName}, nil
}

func (a BlobAddress) String() string {
	return strings.Join([]string{a.Qualifier, a.DatePath, a.FileName}, PathSeparator)
}

// StorageWriteResult
// ------------------------------------------------------------
// blob 쓰기 1회의 결과.
//
//   - IsStored=true  : 저장소가 201 Created 로 응답한 경우에만
//   - IsStored=false : 저장소가 거절했거나(상태코드 유지),
//     쓰기 도중 에러가 난 경우(StatusCode=0, ReasonPhrase="{Type}-{Message}")
//
// FileSize / ModifiedDate 는 성공 시에만 채워진다 (0 / nil = 없음).
type StorageWriteResult struct {
	ReasonPhrase string
	StatusCode   int
	RequestID    string
	ContentToken string // content hash(SHA256/MD5) 또는 ETag
	IsStored     bool
	BlobFullName string
	FileSize     int64
	ModifiedDate *time.Time
}
