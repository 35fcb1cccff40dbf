package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// 全局限流器
var (
	rateLimitEnabled bool
	globalLimiter    *rate.Limiter
	ipLimiters       = make(map[string]*ipLimiterEntry)
	ipLimitersLock   sync.Mutex

	rateLimiterConfig = RateLimiterConfig{
		GlobalRate:  100,
		GlobalBurst: 200,
		PerIPRate:   10,
		PerIPBurst:  20,
	}
)

// 闲置的IP限流器多久后被清理
const ipLimiterExpiry = 5 * time.Minute

// RateLimiterConfig 限流器配置结构
type RateLimiterConfig struct {
	Enabled     bool `json:"enabled"`
	GlobalRate  int  `json:"globalRate"`
	GlobalBurst int  `json:"globalBurst"`
	PerIPRate   int  `json:"perIpRate"`
	PerIPBurst  int  `json:"perIpBurst"`
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InitRateLimiters 初始化限流器
func InitRateLimiters() {
	// 从环境变量读取配置
	if os.Getenv("ENABLE_RATE_LIMIT") == "true" {
		rateLimitEnabled = true
	}

	if globalRateStr := os.Getenv("GLOBAL_RATE_LIMIT"); globalRateStr != "" {
		if r, err := strconv.Atoi(globalRateStr); err == nil && r > 0 {
			rateLimiterConfig.GlobalRate = r
			rateLimiterConfig.GlobalBurst = r * 2
		}
	}

	if ipRateStr := os.Getenv("IP_RATE_LIMIT"); ipRateStr != "" {
		if r, err := strconv.Atoi(ipRateStr); err == nil && r > 0 {
			rateLimiterConfig.PerIPRate = r
			rateLimiterConfig.PerIPBurst = r * 2
		}
	}

	rateLimiterConfig.Enabled = rateLimitEnabled

	if rateLimitEnabled {
		globalLimiter = rate.NewLimiter(rate.Limit(rateLimiterConfig.GlobalRate), rateLimiterConfig.GlobalBurst)
		go cleanupIPLimiters()
		log.Printf("限流器已初始化：全局速率=%d/秒，单IP速率=%d/秒",
			rateLimiterConfig.GlobalRate, rateLimiterConfig.PerIPRate)
	}
}

// RateLimitMiddleware 限流中间件，全局和单IP两级令牌桶
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 如果限流未启用，直接通过
		if !rateLimitEnabled || globalLimiter == nil {
			c.Next()
			return
		}

		if !globalLimiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		if !limiterForIP(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// limiterForIP 获取或创建某个IP的限流器
func limiterForIP(ip string) *rate.Limiter {
	ipLimitersLock.Lock()
	defer ipLimitersLock.Unlock()

	entry, ok := ipLimiters[ip]
	if !ok {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rateLimiterConfig.PerIPRate), rateLimiterConfig.PerIPBurst),
		}
		ipLimiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanupIPLimiters 定期清理闲置的IP限流器
func cleanupIPLimiters() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		ipLimitersLock.Lock()
		for ip, entry := range ipLimiters {
			if time.Since(entry.lastSeen) > ipLimiterExpiry {
				delete(ipLimiters, ip)
			}
		}
		ipLimitersLock.Unlock()
	}
}
