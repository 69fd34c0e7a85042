package exchange

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// IsRetryable 判断错误是否适合上层带退避重试。
// 本模块自身从不自动重试，重试决策完全交给调用方。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return true
		case apiErr.Status >= 500:
			return true
		default:
			return false
		}
	}

	return false
}
