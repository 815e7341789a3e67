package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// RetryPolicy 指数退避参数：首次失败后等待 InitialDelay，之后每次翻倍。
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// DefaultRetryPolicy 3 次重试，初始 2 秒
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, InitialDelay: 2 * time.Second}

// InferenceError 外部推理调用失败。
// Transient 表示限流类错误；Exhausted 表示已按退避策略重试仍失败。
type InferenceError struct {
	Transient  bool
	Exhausted  bool
	Attempts   int
	StatusCode int
	Err        error
}

func (e *InferenceError) Error() string {
	switch {
	case e.Exhausted:
		return fmt.Sprintf("inference gave up after %d attempts: %v", e.Attempts, e.Err)
	case e.Transient:
		return fmt.Sprintf("transient inference failure: %v", e.Err)
	default:
		return fmt.Sprintf("inference failed: %v", e.Err)
	}
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否属于可重试的限流类错误。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var inferenceErr *InferenceError
	if errors.As(err, &inferenceErr) {
		return inferenceErr.Transient
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}

// IsRetriesExhausted 区分「退避后放弃」与「立即终止」。
func IsRetriesExhausted(err error) bool {
	var inferenceErr *InferenceError
	return errors.As(err, &inferenceErr) && inferenceErr.Exhausted
}

// Invoker 为任意外部调用包装有界的指数退避重试。
type Invoker struct {
	sleep     func(ctx context.Context, d time.Duration) error
	transient func(error) bool
}

// NewInvoker 创建重试器，默认按真实时间休眠。
func NewInvoker() *Invoker {
	return &Invoker{sleep: sleepContext, transient: IsTransient}
}

// WithSleeper 替换休眠实现，测试中用于记录等待时长。
func (i *Invoker) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Invoker {
	if sleep != nil {
		i.sleep = sleep
	}
	return i
}

// WithClassifier 替换瞬时错误的判定规则。
func (i *Invoker) WithClassifier(transient func(error) bool) *Invoker {
	if transient != nil {
		i.transient = transient
	}
	return i
}

// Do 执行 op，瞬时错误最多重试 policy.MaxRetries 次；终止性错误立即返回。
// ctx 取消时停止等待并返回 ctx.Err()。
func (i *Invoker) Do(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	delay := policy.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !i.transient(err) {
			// 不改写 op 返回的错误值，另起一个带尝试次数的错误
			var inferenceErr *InferenceError
			if errors.As(err, &inferenceErr) {
				return &InferenceError{StatusCode: inferenceErr.StatusCode, Attempts: attempt, Err: inferenceErr.Err}
			}
			return &InferenceError{Attempts: attempt, Err: err}
		}

		if attempt > policy.MaxRetries {
			return &InferenceError{Transient: true, Exhausted: true, Attempts: attempt, Err: err}
		}

		log.Printf("[AI RETRY] attempt=%d transient failure, retrying in %s: %v", attempt, delay, err)
		if err := i.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

// Invoke 是带返回值的 Do。
func Invoke[T any](ctx context.Context, invoker *Invoker, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := invoker.Do(ctx, policy, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
