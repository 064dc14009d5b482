package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/authgate/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AuthPerMinute    int           // サインイン・サインアップ（IPごと）
	GeneralPerMinute int           // 認証済みAPI全般（ユーザーごと）
	CleanupInterval  time.Duration // インメモリ実装の期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// サインイン・サインアップ 10 req/min/IP、API全般 120 req/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		AuthPerMinute:    10,
		GeneralPerMinute: 120,
		CleanupInterval:  5 * time.Minute,
	}
}

// Decision はレート制限の判定結果。
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter はキーごとのレート制限を判定する。
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RejectionRecorder はレート制限による拒否を記録する。
type RejectionRecorder interface {
	RecordRateLimited(scope string)
}

// RateLimiter はサインイン系のIP単位制限と、認証済みAPIのユーザー単位制限を提供する。
type RateLimiter struct {
	auth     Limiter
	general  Limiter
	recorder RejectionRecorder
}

// NewRateLimiter は新しいRateLimiterを生成する。recorderはnilでもよい。
func NewRateLimiter(authLimiter, generalLimiter Limiter, recorder RejectionRecorder) *RateLimiter {
	return &RateLimiter{
		auth:     authLimiter,
		general:  generalLimiter,
		recorder: recorder,
	}
}

// AuthMiddleware はクライアントIPごとのレート制限ミドルウェアを返す。
// chiのRealIPの後に配置するとプロキシ越しのIPで判定する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(w, r, rl.auth, "auth", clientIP(r)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある（AuthMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteError(w, r, model.NewUnauthenticatedError(err))
				return
			}
			if !rl.allow(w, r, rl.general, "general", userID) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow は判定結果に応じて429を書き込む。判定自体の失敗時は通過させる。
func (rl *RateLimiter) allow(w http.ResponseWriter, r *http.Request, l Limiter, scope, key string) bool {
	d, err := l.Allow(r.Context(), scope+":"+key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request",
			slog.String("limit_type", scope),
			slog.String("error", err.Error()),
		)
		return true
	}
	if d.Allowed {
		return true
	}

	if rl.recorder != nil {
		rl.recorder.RecordRateLimited(scope)
	}
	slog.Warn("rate limit exceeded",
		slog.String("key", key),
		slog.String("limit_type", scope),
	)
	writeRateLimitResponse(w, d.RetryAfter)
	return false
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter はプロセス内のトークンバケットでレート制限する。
// 複数レプリカで共有する場合はRedisLimiterを使う。
type MemoryLimiter struct {
	rate            rate.Limit
	burst           int
	cleanupInterval time.Duration

	mu       sync.RWMutex
	limiters map[string]*keyLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter は1分あたりperMinute回を許可するMemoryLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewMemoryLimiter(perMinute int, cleanupInterval time.Duration) *MemoryLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	ml := &MemoryLimiter{
		rate:            rate.Limit(float64(perMinute) / 60.0),
		burst:           perMinute,
		cleanupInterval: cleanupInterval,
		limiters:        make(map[string]*keyLimiter),
		stopCh:          make(chan struct{}),
	}

	go ml.cleanupLoop()

	return ml
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (ml *MemoryLimiter) Stop() {
	ml.stopOnce.Do(func() { close(ml.stopCh) })
}

// Allow はキーのトークンを1つ消費できるかを判定する。
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if ml.getOrCreate(key).Allow() {
		return Decision{Allowed: true}, nil
	}
	// 1トークンが補充されるまでの秒数
	retryAfterSec := math.Ceil(1.0 / float64(ml.rate))
	return Decision{RetryAfter: time.Duration(retryAfterSec) * time.Second}, nil
}

// Count は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (ml *MemoryLimiter) Count() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.limiters)
}

// getOrCreate はキーのリミッターを取得または作成する。
func (ml *MemoryLimiter) getOrCreate(key string) *rate.Limiter {
	ml.mu.RLock()
	kl, exists := ml.limiters[key]
	ml.mu.RUnlock()

	if exists {
		ml.mu.Lock()
		kl.lastAccess = time.Now()
		ml.mu.Unlock()
		return kl.limiter
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	// ダブルチェック
	if kl, exists := ml.limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(ml.rate, ml.burst)
	ml.limiters[key] = &keyLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (ml *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(ml.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.cleanup()
		case <-ml.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がcleanupIntervalの2倍を超えたエントリを削除する。
func (ml *MemoryLimiter) cleanup() {
	ttl := ml.cleanupInterval * 2
	now := time.Now()

	ml.mu.Lock()
	for key, kl := range ml.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(ml.limiters, key)
		}
	}
	ml.mu.Unlock()
}

// RedisLimiter はRedisの固定ウィンドウカウンタでレート制限する。
// 複数レプリカ間でカウンタを共有できる。
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter は1分あたりperMinute回を許可するRedisLimiterを生成する。
func NewRedisLimiter(client redis.Cmdable, prefix string, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(perMinute),
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow は現在のウィンドウのカウンタを増やし、上限以内かを判定する。
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := rl.now()
	windowStart := now.Truncate(rl.window)
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, windowStart.Unix())

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	if incr.Val() <= rl.limit {
		return Decision{Allowed: true}, nil
	}

	retryAfter := windowStart.Add(rl.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{RetryAfter: retryAfter}, nil
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには再試行できるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error: "Too many requests. Please try again later.",
		Code:  "rate_limited",
	})
}

// compile-time interface check
var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
