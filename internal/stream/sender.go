package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Sender 는 primary stream 으로 직렬화된 엔트리 1건을 보낸다.
// 여러 goroutine 에서 동시에 Send 해도 안전해야 한다.
// Close 는 Sender 를 만든 쪽이 한 번만 호출한다.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Validator 는 연결 상태를 미리 확인할 수 있는 Sender 가 구현한다.
type Validator interface {
	Validate(ctx context.Context) error
}

var ErrClosed = errors.New("stream: sender closed")

// ConsoleSender 는 payload 를 한 줄씩 io.Writer 에 쓴다 (개발/디버깅용).
type ConsoleSender struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func NewConsoleSender(w io.Writer) *ConsoleSender {
	return &ConsoleSender{w: w}
}

func (c *ConsoleSender) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	_, err := c.w.Write([]byte{'\n'})
	return err
}

// Validate 는 항상 성공한다.
func (c *ConsoleSender) Validate(context.Context) error { return nil }

func (c *ConsoleSender) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
