package overflow

import (
	"context"
	"sync"
)

// CancellationResult 는 Cancel() 요청의 결과이다.
type CancellationResult int

const (
	Successful         CancellationResult = iota // 취소 신호 전달됨 (쓰기가 실제로 멈췄다는 보장은 아님)
	UnableToCancel                               // 취소할 수 있는 쓰기가 없음
	CancellationFailed                           // 취소 source 가 이미 무효화됨 / 신호 중 panic
)

func (r CancellationResult) String() string {
	switch r {
	case Successful:
		return "Successful"
	case UnableToCancel:
		return "UnableToCancel"
	case CancellationFailed:
		return "CancellationFailed"
	}
	return "Unknown"
}

// cancelSource 는 cancellable 쓰기 1건에 묶인 취소 수단.
type cancelSource struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Canceller
// ------------------------------------------------------------
// 진행 중인 cancellable 쓰기 하나를 추적하는 단일 slot.
//
// 주의: slot 이 하나뿐이다.
// cancellable 쓰기 두 개가 겹치면 나중에 시작한 쓰기가 slot 을 덮어쓰고,
// Cancel() 은 마지막으로 bind 된 쓰기에만 영향을 준다.
// 앞선 쓰기는 더 이상 Cancel() 로 멈출 수 없다 (자기 ctx 로만 취소 가능).
//
// Successful 은 "신호를 보냈다" 는 뜻이지 쓰기가 완료 전에 멈췄다는 뜻이 아니다.
// 저장소가 이미 요청을 처리했다면 blob 은 남아 있을 수 있다.
type Canceller struct {
	mu   sync.Mutex
	slot *cancelSource
}

// bind 는 parent 에서 새 cancel source 를 만들어 slot 에 건다.
func (c *Canceller) bind(parent context.Context) (context.Context, *cancelSource) {
	ctx, cancel := context.WithCancel(parent)
	src := &cancelSource{ctx: ctx, cancel: cancel}

	c.mu.Lock()
	c.slot = src
	c.mu.Unlock()
	return ctx, src
}

// release 는 쓰기가 끝났을 때 호출한다.
// slot 이 아직 같은 source 일 때만 비운다 (다른 쓰기가 덮어썼으면 그대로 둠).
func (c *Canceller) release(src *cancelSource) {
	c.mu.Lock()
	if c.slot == src {
		c.slot = nil
	}
	c.mu.Unlock()
	src.cancel()
}

// Cancel
// ------------------------------------------------------------
//   - slot 비어 있음 (시작 전 / 완료됨 / 이미 취소됨) → UnableToCancel
//   - source 가 이미 외부에서 무효화됨 (parent ctx 취소, deadline) → CancellationFailed
//   - 신호 전달 중 panic → CancellationFailed
//   - 그 외: 신호 전달 후 slot 비움 → Successful
//
// 같은 source 에 대해 Successful 은 최대 한 번만 나온다.
func (c *Canceller) Cancel() (result CancellationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.slot
	if src == nil {
		return UnableToCancel
	}
	if src.ctx.Err() != nil {
		return CancellationFailed
	}

	defer func() {
		if r := recover(); r != nil {
			result = CancellationFailed
		}
	}()
	src.cancel()
	c.slot = nil
	return Successful
}

// Pending 은 취소 가능한 쓰기가 bind 되어 있는지 여부.
func (c *Canceller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot != nil && c.slot.ctx.Err() == nil
}
