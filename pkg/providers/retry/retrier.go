// Package retry 为后端调用提供网络级重试：
// 区分瞬时网络错误、限流、服务端错误与永久性错误，按指数退避等待。
// 它只处理"这次请求没送达/没回来"一类故障；
// 内容级的校验重试由上层转换状态机负责。
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// Config 重试配置
type Config struct {
	// 最大重试次数
	MaxRetries int `json:"max_retries"`

	// 初始延迟时间
	InitialDelay time.Duration `json:"initial_delay"`

	// 最大延迟时间
	MaxDelay time.Duration `json:"max_delay"`

	// 退避因子（指数退避）
	BackoffFactor float64 `json:"backoff_factor"`
}

// DefaultConfig 返回默认重试配置
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ErrorType 错误类型枚举
type ErrorType int

const (
	ErrorTypeNone      ErrorType = iota
	ErrorTypeNetwork             // 网络瞬时错误
	ErrorTypeRateLimit           // 限流
	ErrorTypeServer              // 服务端错误
	ErrorTypePermanent           // 永久性错误（鉴权失败、请求非法等）
)

// Retrier 网络重试器
type Retrier struct {
	config Config
}

// New 创建重试器
func New(config Config) *Retrier {
	return &Retrier{config: config}
}

// Func 可重试的调用
type Func func() error

// Do 执行带重试的调用。永久性错误立即返回，可重试错误按退避等待。
func (r *Retrier) Do(ctx context.Context, fn Func) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if Classify(err) == ErrorTypePermanent {
			return err
		}
		if attempt == r.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}
	return lastErr
}

// delay 第 attempt 次失败后的等待时间
func (r *Retrier) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt)))
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	return d
}

// Classify 判定错误类型
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeNone
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypePermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorTypeNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "server error"):
		return ErrorTypeServer
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "unauthorized"):
		return ErrorTypePermanent
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return ErrorTypeNetwork
	}
	return ErrorTypeServer
}
