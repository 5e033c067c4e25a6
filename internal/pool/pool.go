package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// shipper 는 로그 호출마다 JSON 직렬화 버퍼를 만들고,
// overflow 가 발생하면 1MB 이상의 payload 를 gzip 으로 압축한다.
//
// 아래 Pool 들은 "GC 줄이기, 메모리 재사용" 목적.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - JSON 직렬화 / gzip 결과를 담는 임시 버퍼
	//   - 초기 용량 16KB (대부분의 일반 로그는 여기에 수용됨)
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 16*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - BestSpeed: overflow 는 요청 경로에서 동기 수행되므로 속도 우선
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// overflow payload 는 threshold(기본 1MB) 이상이므로
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임한다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// GetBuffer 는 비워진 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - overflow 크기 버퍼는 풀로 돌리지 않음 → 메모리 안정화 목적
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// Gzip 은 data 를 gzip 으로 압축한 새 slice 를 반환한다.
// pool 버퍼는 재사용되므로 결과는 반드시 호출자 소유의 복사본이어야 한다.
func Gzip(data []byte) ([]byte, error) {
	buf := GetBuffer()
	gz := GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		GzipPool.Put(gz)
		PutBuffer(buf)
		return nil, err
	}
	if err := gz.Close(); err != nil {
		GzipPool.Put(gz)
		PutBuffer(buf)
		return nil, err
	}
	GzipPool.Put(gz)

	raw := buf.Bytes()
	out := make([]byte, len(raw))
	copy(out, raw)

	PutBuffer(buf)
	return out, nil
}
