// Package inference は外部の推論サーバー（眼底画像の緑内障判定モデル）との連携を提供する。
//
// 推論サーバーは画像バイト列をそのまま受け取り、クラスごとの確率ベクトルを
// {"probabilities": [p_glaucoma, p_normal]} の形式で返す。
// 確率の並びは model.ClassNames と一致する。
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/hitoshi/eyescreen/internal/model"
)

// maxResponseBytes は推論サーバーのレスポンスとして読み取る最大バイト数。
const maxResponseBytes = 1 << 20

// ErrMalformedResponse は推論サーバーのレスポンスが解釈できないことを表す。
var ErrMalformedResponse = errors.New("malformed inference response")

// Result は推論結果。ProbabilityはLabelに対応するクラスの確率（0〜1）。
type Result struct {
	Label       model.Label
	Probability float64
}

// Client は推論サーバーのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	// MaxRetries は429/502/503/504に対する再試行回数。0の場合は再試行しない。
	MaxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient はClientの新しいインスタンスを生成する。
// タイムアウトはhttpClient側で設定する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		MaxRetries: defaultMaxRetries,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// Classify は画像を推論サーバーに送り、最も確率の高いクラスとその確率を返す。
// 同率の場合は先頭のクラスを採用する。
// 一時的なエラーステータスの場合は指数バックオフでMaxRetries回まで再試行する。
func (c *Client) Classify(ctx context.Context, image []byte, contentType string) (*Result, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	for attempt := 0; ; attempt++ {
		body, status, err := c.post(ctx, image, contentType)
		if err != nil {
			c.logger.Error("推論サーバーの呼び出しに失敗しました",
				slog.String("error", err.Error()),
				slog.Int("image_bytes", len(image)),
			)
			return nil, fmt.Errorf("推論サーバーの呼び出しに失敗しました: %w", err)
		}

		switch classifyStatus(status) {
		case statusOK:
			return c.decode(body)
		case statusRetry:
			if attempt < c.MaxRetries {
				delay := backoffDelay(attempt)
				c.logger.Warn("推論サーバーが一時的なエラーを返したため再試行します",
					slog.Int("http_status", status),
					slog.Int("attempt", attempt+1),
					slog.Duration("delay", delay),
				)
				if err := c.sleep(ctx, delay); err != nil {
					return nil, fmt.Errorf("推論サーバーの再試行を中断しました: %w", err)
				}
				continue
			}
		}

		c.logger.Error("推論サーバーがエラーステータスを返しました",
			slog.Int("http_status", status),
			slog.Int("attempts", attempt+1),
		)
		return nil, fmt.Errorf("推論サーバーがステータス %d を返しました", status)
	}
}

// post は画像を1回送信し、レスポンスボディとステータスコードを返す。
func (c *Client) post(ctx context.Context, image []byte, contentType string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, resp.StatusCode, nil
}

// decode は推論サーバーのレスポンスを解釈する。
func (c *Client) decode(body []byte) (*Result, error) {
	var decoded predictResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.logger.Error("推論サーバーのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return argmax(decoded.Probabilities)
}

// argmax は確率ベクトルからクラスを選ぶ。
func argmax(probs []float64) (*Result, error) {
	if len(probs) != len(model.ClassNames) {
		return nil, fmt.Errorf("%w: expected %d probabilities, got %d",
			ErrMalformedResponse, len(model.ClassNames), len(probs))
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: probability %d is not finite", ErrMalformedResponse, i)
		}
		if p > probs[best] {
			best = i
		}
	}

	return &Result{
		Label:       model.ClassNames[best],
		Probability: probs[best],
	}, nil
}
