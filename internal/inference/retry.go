package inference

import (
	"net/http"
	"time"
)

// statusClass はHTTPステータスコードに基づく推論呼び出し結果の分類。
type statusClass int

const (
	// statusOK は推論成功（200）。
	statusOK statusClass = iota
	// statusRetry は再試行で回復しうるステータス（429/502/503/504）。
	statusRetry
	// statusFail は再試行しても回復しないステータス。
	statusFail
)

const (
	// defaultMaxRetries は一時的なエラーに対する再試行回数の既定値。
	defaultMaxRetries = 2
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 200 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 2 * time.Second
)

// classifyStatus はHTTPステータスコードを分類する。
// モデルの読み込み中やスケールアウト中の推論サーバーは503を返すことがある。
func classifyStatus(statusCode int) statusClass {
	switch statusCode {
	case http.StatusOK:
		return statusOK
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return statusRetry
	default:
		return statusFail
	}
}

// backoffDelay は試行回数（0始まり）に応じた指数バックオフ遅延を返す。
func backoffDelay(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
