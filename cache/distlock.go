package cache

import (
	"log"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

// LockService 按名称串行化操作。多实例部署时使用Redis分布式锁，
// Redis不可用时退化为进程内互斥锁。
type LockService interface {
	// WithLock 在锁内执行操作，获取锁失败返回ErrLockNotAcquired
	WithLock(lockName string, expiry time.Duration, action func() error) error
}

// NewLockService 根据Redis可用性选择锁实现
func NewLockService() LockService {
	client, err := GetClient()
	if err != nil {
		log.Println("使用本地锁服务")
		return NewLocalLockService()
	}
	pool := goredis.NewPool(client)
	log.Println("分布式锁初始化成功")
	return &distributedLockService{rs: redsync.New(pool)}
}

// distributedLockService 基于Redsync的分布式锁
type distributedLockService struct {
	rs *redsync.Redsync
}

func (s *distributedLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),                        // 最大重试次数
		redsync.WithRetryDelay(50*time.Millisecond), // 重试延迟
		redsync.WithDriftFactor(0.01),               // 时钟漂移因子
	)

	if err := mutex.Lock(); err != nil {
		return ErrLockNotAcquired
	}

	// 确保解锁
	defer func() {
		_, _ = mutex.Unlock()
	}()

	return action()
}

// LocalLockService 进程内按名称加锁
type LocalLockService struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLockService 创建本地锁服务
func NewLocalLockService() *LocalLockService {
	return &LocalLockService{locks: make(map[string]*sync.Mutex)}
}

func (s *LocalLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	s.mu.Lock()
	m, ok := s.locks[lockName]
	if !ok {
		m = &sync.Mutex{}
		s.locks[lockName] = m
	}
	s.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return action()
}
