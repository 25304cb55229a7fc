package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config 统一控制重试机制。
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Markers 为可重试错误的消息特征，匹配时忽略大小写做子串比较。
	Markers []string
}

// DefaultConfig 返回默认重试参数。
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Markers:      DefaultMarkers(),
	}
}

// DefaultMarkers 返回默认的瞬时故障特征集。
func DefaultMarkers() []string {
	return []string{
		"network",
		"timeout",
		"connection reset",
		"connection timeout",
		"host not found",
		"fetch failed",
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if len(c.Markers) == 0 {
		c.Markers = DefaultMarkers()
	}
	return c
}

// Retryable 判断错误是否为可重试的瞬时故障。
// 上下文取消永远不重试；网络层错误视为瞬时故障。
func (c Config) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return c.RetryableMessage(err.Error())
}

// RetryableMessage 按特征子串判断错误消息是否可重试。
func (c Config) RetryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range c.normalized().Markers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Do 以指数退避执行 op。不可重试的错误立即返回；
// 可重试错误在预算耗尽后返回最后一次错误。
func Do[T any](ctx context.Context, cfg Config, operation string, logger *zap.Logger, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		logger.Warn("调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("retry: %s 重试 %d 次后仍失败: %w", operation, cfg.MaxRetries, lastErr)
}

// Outcome 为不抛错而以业务结果表达失败的操作返回值。
type Outcome[T any] struct {
	Success bool
	Value   T
	Err     string
}

// DoResult 包装返回 Outcome 的操作：业务失败且错误可重试时按退避
// 重试，预算耗尽后以错误返回（Outcome 为零值）；不可重试的失败结果
// 原样返回且不视为错误。传输层错误仍走 Do 的重试语义。
func DoResult[T any](ctx context.Context, cfg Config, operation string, logger *zap.Logger, op func(context.Context) (Outcome[T], error)) (Outcome[T], error) {
	cfg = cfg.normalized()
	return Do(ctx, cfg, operation, logger, func(ctx context.Context) (Outcome[T], error) {
		outcome, err := op(ctx)
		if err != nil {
			return outcome, err
		}
		if !outcome.Success && cfg.RetryableMessage(outcome.Err) {
			// 转化为错误驱动重试。
			return outcome, fmt.Errorf("retry: %s 返回可重试失败: %s", operation, outcome.Err)
		}
		return outcome, nil
	})
}
