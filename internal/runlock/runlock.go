package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	redis "github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the ingestion lease
const DefaultKey = "fuelwatch:ingest:lock"

// releaseScript deletes the lease only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if it still holds our token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Guard admits at most one ingestion run at a time. Without Redis the guard
// covers this process only; with Redis it also covers every process sharing
// the same key. A held Redis lease is renewed every third of its TTL until
// released, so a run may outlast the TTL.
type Guard struct {
	mu      sync.Mutex
	running bool
	since   time.Time

	redis      *redis.Client
	key        string
	ttl        time.Duration
	renewEvery time.Duration
}

// New creates an in-process guard
func New() *Guard {
	return &Guard{key: DefaultKey}
}

// NewRedis creates a guard backed by a Redis lease
func NewRedis(redisURL string, ttl time.Duration) (*Guard, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient creates a guard over an existing client
func NewWithClient(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Guard{redis: client, key: DefaultKey, ttl: ttl, renewEvery: ttl / 3}
}

// TryAcquire takes the guard without waiting. It returns ErrRunInProgress
// when another run holds it. The returned release is safe to call more than
// once.
func (g *Guard) TryAcquire(ctx context.Context) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil, apperrors.ErrRunInProgress
	}

	var token string
	if g.redis != nil {
		token = uuid.NewString()
		ok, err := g.redis.SetNX(ctx, g.key, token, g.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire run lease: %w", err)
		}
		if !ok {
			return nil, apperrors.ErrRunInProgress
		}
	}

	g.running = true
	g.since = time.Now()

	stop := func() {}
	if g.redis != nil {
		done := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			g.renew(token, done)
		}()
		stop = func() {
			close(done)
			<-stopped
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			g.release(token)
		})
	}, nil
}

// renew keeps the lease alive until done is closed or the lease is lost
func (g *Guard) renew(token string, done <-chan struct{}) {
	ticker := time.NewTicker(g.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		n, err := renewScript.Run(ctx, g.redis, []string{g.key}, token, g.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			logger.Warn("Failed to renew run lease", "key", g.key, "error", err)
		case n == 0:
			logger.Error("Run lease lost", "key", g.key)
			return
		}
	}
}

func (g *Guard) release(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running = false
	g.since = time.Time{}

	if g.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, g.redis, []string{g.key}, token).Err(); err != nil {
		logger.Warn("Failed to release run lease", "key", g.key, "error", err)
	}
}

// Running reports whether this process currently holds the guard and since when
func (g *Guard) Running() (bool, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running, g.since
}

// Distributed reports whether the guard is backed by Redis
func (g *Guard) Distributed() bool { return g.redis != nil }

// Close releases the Redis client, if any
func (g *Guard) Close() error {
	if g.redis == nil {
		return nil
	}
	return g.redis.Close()
}
