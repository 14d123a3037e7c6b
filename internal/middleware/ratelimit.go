package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/eyescreen/internal/model"
)

// RateLimiterConfig はレート制限の設定。
type RateLimiterConfig struct {
	GeneralRate        rate.Limit    // ログイン済みAPIのユーザー単位レート（req/sec）
	GeneralBurst       int
	AccessRequestRate  rate.Limit    // 未認証の利用申請のIP単位レート（req/sec）
	AccessRequestBurst int
	CleanupInterval    time.Duration // 使われなくなったキーを捨てる間隔
}

// DefaultRateLimiterConfig はAPI全般 120 req/min/user、利用申請 5 req/min/IP の設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:        rate.Limit(120.0 / 60.0),
		GeneralBurst:       120,
		AccessRequestRate:  rate.Limit(5.0 / 60.0),
		AccessRequestBurst: 5,
		CleanupInterval:    5 * time.Minute,
	}
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet はキー（ユーザーIDまたはIP）ごとのトークンバケット。
type limiterSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

func newLimiterSet(name string, r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
	}
}

// wait はkeyのトークンを1つ消費する。残りがなければ消費せず、補充までの待ち時間を返す。
func (s *limiterSet) wait(key string, now time.Time) time.Duration {
	s.mu.Lock()
	kl, ok := s.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = kl
	}
	kl.lastSeen = now
	s.mu.Unlock()

	res := kl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
	}
	return delay
}

func (s *limiterSet) evictBefore(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if kl.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// limit はkeyの枠が残っていればnextを呼び、なければ429を返す。
func (s *limiterSet) limit(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	if delay := s.wait(key, time.Now()); delay > 0 {
		slog.Warn("rate limit exceeded",
			slog.String("limit_type", s.name),
			slog.String("key", key),
			slog.Duration("retry_after", delay),
		)
		writeRateLimited(w, delay)
		return
	}
	next.ServeHTTP(w, r)
}

// RateLimiter はユーザー単位のAPI全般の制限と、IP単位の利用申請の制限を持つ。
type RateLimiter struct {
	config        RateLimiterConfig
	general       *limiterSet
	accessRequest *limiterSet
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewRateLimiter はRateLimiterを生成し、使われなくなったキーの掃除を開始する。Stopで止める。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:        config,
		general:       newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		accessRequest: newLimiterSet("access_request", config.AccessRequestRate, config.AccessRequestBurst),
		stopCh:        make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はセッションのユーザーID単位で制限する。SessionMiddlewareの内側に置く。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			rl.general.limit(w, r, next, userID)
		})
	}
}

// AccessRequestMiddleware は未認証の利用申請をクライアントIP単位で制限する。
func (rl *RateLimiter) AccessRequestMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl.accessRequest.limit(w, r, next, clientIP(r))
		})
	}
}

func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

func (rl *RateLimiter) AccessRequestLimiterCount() int {
	return rl.accessRequest.len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup はCleanupIntervalの2倍以上アクセスのないキーを捨てる。
func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)
	rl.general.evictBefore(cutoff)
	rl.accessRequest.evictBefore(cutoff)
}

// clientIP はRemoteAddrのホスト部を返す。プロキシ配下ではchiのRealIPが先に書き換えている。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimited はRetry-After（秒、切り上げ）付きの429を書き込む。
func writeRateLimited(w http.ResponseWriter, delay time.Duration) {
	seconds := int(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
