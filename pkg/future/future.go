// Package future 提供单次赋值、可等待、可取消的异步结果
//
// Future 从 pending 开始，恰好一次转换为 success(value) 或 failure(err)，
// 之后永久保持终态。第二次完成尝试返回 false 且不改变已存值。
//
// # 组合
//
// Wrap 构造一个镜像内部 Future 终态的包装；Then 在前一步成功后启动下一步，
// 整体结果即最后一步的结果。中继建立（预留通道 → 建立连接 → 注册）就是这样串起来的：
//
//	res := transport.Reserve(1)
//	conn := future.Then(res, func(r *Reservation) *future.Future[Connection] { ... })
//	route := future.Then(conn, register)
//
// # 回调与等待
//
// OnComplete 注册的回调每个恰好执行一次：完成前注册的在完成方 goroutine 上执行，
// 完成后注册的在注册方 goroutine 上同步执行。
//
// 约定：不要在完成回调内对同一个或依赖的 Future 调用 Wait/Await，这会死锁。
// 该约定不做运行时检查。
package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrCancelled Future 被取消
	ErrCancelled = errors.New("future: cancelled")

	// ErrNotDone Future 尚未完成
	ErrNotDone = errors.New("future: not done")

	// ErrFailed 未给出原因的失败
	ErrFailed = errors.New("future: failed")
)

// reasonError 仅携带描述字符串的失败原因
type reasonError string

func (e reasonError) Error() string { return string(e) }

type state uint8

const (
	statePending state = iota
	stateSuccess
	stateFailure
)

// Future 异步结果
type Future[T any] struct {
	mu          sync.Mutex
	state       state
	value       T
	err         error
	done        chan struct{}
	listeners   []func(*Future[T])
	cancelHooks []func()
}

// New 创建 pending 状态的 Future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Succeeded 创建已成功的 Future
func Succeeded[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed 创建已失败的 Future
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// FailedReason 创建以描述字符串失败的 Future
func FailedReason[T any](reason string) *Future[T] {
	f := New[T]()
	f.FailReason(reason)
	return f
}

// Complete 以成功值完成
//
// 仅第一次完成生效，之后返回 false。
func (f *Future[T]) Complete(v T) bool {
	return f.finish(stateSuccess, v, nil)
}

// Fail 以错误完成
func (f *Future[T]) Fail(err error) bool {
	if err == nil {
		err = ErrFailed
	}
	var zero T
	return f.finish(stateFailure, zero, err)
}

// FailReason 以描述字符串完成
func (f *Future[T]) FailReason(reason string) bool {
	return f.Fail(reasonError(reason))
}

// Cancel 取消 Future
//
// 以 ErrCancelled 失败，并执行 OnCancel 注册的钩子。取消是协作式的：
// 钩子负责释放底层资源（例如关闭正在建立的连接）。
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	hooks := f.cancelHooks
	f.cancelHooks = nil
	listeners := f.terminateLocked(stateFailure, *new(T), ErrCancelled)
	f.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	f.notify(listeners)
	return true
}

// OnCancel 注册取消钩子
//
// 仅当 Future 因 Cancel 结束时执行；Future 已被取消时立即执行。
func (f *Future[T]) OnCancel(hook func()) {
	f.mu.Lock()
	if f.state == statePending {
		f.cancelHooks = append(f.cancelHooks, hook)
		f.mu.Unlock()
		return
	}
	cancelled := errors.Is(f.err, ErrCancelled)
	f.mu.Unlock()
	if cancelled {
		hook()
	}
}

// OnComplete 注册完成回调
func (f *Future[T]) OnComplete(fn func(*Future[T])) {
	f.mu.Lock()
	if f.state == statePending {
		f.listeners = append(f.listeners, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

func (f *Future[T]) finish(s state, v T, err error) bool {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.cancelHooks = nil
	listeners := f.terminateLocked(s, v, err)
	f.mu.Unlock()

	f.notify(listeners)
	return true
}

func (f *Future[T]) terminateLocked(s state, v T, err error) []func(*Future[T]) {
	f.state = s
	f.value = v
	f.err = err
	close(f.done)
	listeners := f.listeners
	f.listeners = nil
	return listeners
}

func (f *Future[T]) notify(listeners []func(*Future[T])) {
	for _, fn := range listeners {
		fn(f)
	}
}

// Done 返回在终态时关闭的通道
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait 阻塞直到终态或 ctx 结束
//
// 返回 nil 表示已到达终态（成功或失败需再查询），否则返回 ctx.Err()。
func (f *Future[T]) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		select {
		case <-f.done:
			return nil
		default:
			return ctx.Err()
		}
	}
}

// Await 不可中断地等待终态
func (f *Future[T]) Await() *Future[T] {
	<-f.done
	return f
}

// IsDone 是否已到达终态
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsSuccess 是否成功
func (f *Future[T]) IsSuccess() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateSuccess
}

// IsFailed 是否失败
func (f *Future[T]) IsFailed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateFailure
}

// IsCancelled 是否因取消而失败
func (f *Future[T]) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateFailure && errors.Is(f.err, ErrCancelled)
}

// Value 返回成功值；未成功时返回零值
func (f *Future[T]) Value() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateSuccess {
		var zero T
		return zero
	}
	return f.value
}

// Err 返回失败错误；成功时为 nil，未完成时为 ErrNotDone
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case statePending:
		return ErrNotDone
	case stateFailure:
		return f.err
	default:
		return nil
	}
}

// Reason 返回失败原因的描述字符串；非失败状态返回空串
func (f *Future[T]) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateFailure {
		return ""
	}
	return f.err.Error()
}

// Result 返回值与错误（非阻塞）
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case stateSuccess:
		return f.value, nil
	case stateFailure:
		var zero T
		return zero, f.err
	default:
		var zero T
		return zero, ErrNotDone
	}
}

// ============================================================================
//                              组合
// ============================================================================

// Wrap 构造镜像 inner 终态的包装
//
// inner 完成时包装随之完成；取消包装会取消 inner。
func Wrap[T any](inner *Future[T]) *Future[T] {
	outer := New[T]()
	outer.OnCancel(func() { inner.Cancel() })
	inner.OnComplete(func(in *Future[T]) {
		forward(in, outer)
	})
	return outer
}

// Then 在 inner 成功后执行 next，整体结果是 next 返回的 Future 的结果
//
// inner 失败时 next 不会被调用，错误原样传递。取消整体会取消当前进行中的一步。
func Then[S, T any](inner *Future[S], next func(S) *Future[T]) *Future[T] {
	outer := New[T]()
	var step atomic.Pointer[Future[T]]

	outer.OnCancel(func() {
		inner.Cancel()
		if s := step.Load(); s != nil {
			s.Cancel()
		}
	})

	inner.OnComplete(func(in *Future[S]) {
		v, err := in.Result()
		if err != nil {
			outer.Fail(err)
			return
		}
		s := next(v)
		if s == nil {
			outer.Fail(ErrFailed)
			return
		}
		step.Store(s)
		if outer.IsCancelled() {
			s.Cancel()
			return
		}
		s.OnComplete(func(sf *Future[T]) {
			forward(sf, outer)
		})
	})
	return outer
}

// Map 在 inner 成功后对值做同步转换
func Map[S, T any](inner *Future[S], fn func(S) (T, error)) *Future[T] {
	return Then(inner, func(v S) *Future[T] {
		out, err := fn(v)
		if err != nil {
			return Failed[T](err)
		}
		return Succeeded(out)
	})
}

// Go 在新 goroutine 中执行 fn 并以其结果完成 Future
//
// fn 收到的 ctx 在 Future 被取消时结束。
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := New[T]()
	ctx, cancel := context.WithCancel(ctx)
	f.OnCancel(cancel)
	go func() {
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			f.Fail(err)
			return
		}
		f.Complete(v)
	}()
	return f
}

func forward[T any](from, to *Future[T]) {
	v, err := from.Result()
	if err != nil {
		to.Fail(err)
		return
	}
	to.Complete(v)
}
