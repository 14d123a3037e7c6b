package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.written = true
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// requestIdentity はセッションミドルウェアからアクセスログへ利用者情報を渡すための入れ物。
// セッションはr.WithContextで内側にしか見えないため、外側のロギングミドルウェアと共有する。
type requestIdentity struct {
	mu     sync.Mutex
	userID string
	role   string
}

var identityContextKey = contextKey("request_identity")

// setLoggedIdentity はアクセスログに出力する利用者を記録する。
// ロギングミドルウェアの外側で呼ばれた場合は何もしない。
func setLoggedIdentity(ctx context.Context, userID, role string) {
	id, ok := ctx.Value(identityContextKey).(*requestIdentity)
	if !ok {
		return
	}
	id.mu.Lock()
	id.userID = userID
	id.role = role
	id.mu.Unlock()
}

// NewLoggingMiddleware はリクエストごとにhttp_requestログを出力するミドルウェアを返す。
// method、path、route、status、bytes、duration_ms、request_idと、
// 認証済みであればuser_idとroleを含む。ログレベルはステータスコードで決まる。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			identity := &requestIdentity{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), identityContextKey, identity)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, slog.String("route", pattern))
				}
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}

			identity.mu.Lock()
			userID, role := identity.userID, identity.role
			identity.mu.Unlock()
			if userID == "" {
				if session, ok := SessionFromContext(r.Context()); ok {
					userID, role = session.UserID, string(session.Role)
				}
			}
			if userID != "" {
				attrs = append(attrs, slog.String("user_id", userID), slog.String("role", role))
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}

// StatusRecorder はレスポンスステータスの記録インターフェース。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// NewStatusMetricsMiddleware はレスポンスのステータスコードをメトリクスに記録するミドルウェアを返す。
func NewStatusMetricsMiddleware(recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)
			recorder.RecordHTTPStatus(rec.statusCode)
		})
	}
}
