package orderquery

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache хранит готовые tracking-представления по токену.
//
// Delete оставляет отметку инвалидации: Set с readAt не позже этой отметки
// игнорируется, поэтому чтение, начатое до смены статуса, не перезапишет
// кеш устаревшим представлением.
type Cache interface {
	Get(ctx context.Context, token string) (TrackingView, bool, error)
	Set(ctx context.Context, token string, view TrackingView, readAt time.Time) error
	Delete(ctx context.Context, token string) error
}

const (
	trackingKeyPrefix     = "storefront:tracking:"
	invalidatedKeyPrefix  = "storefront:tracking:invalidated:"
	defaultTrackingTTL    = 2 * time.Minute
	defaultMaxCachedViews = 10000
)

// RedisCache — кеш в Redis, значения лежат JSON с TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig — параметры подключения к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisCache(cfg RedisConfig) *RedisCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTrackingTTL
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, token string) (TrackingView, bool, error) {
	data, err := c.client.Get(ctx, trackingKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return TrackingView{}, false, nil
	}
	if err != nil {
		return TrackingView{}, false, fmt.Errorf("redis get: %w", err)
	}
	var view TrackingView
	if err := json.Unmarshal(data, &view); err != nil {
		return TrackingView{}, false, fmt.Errorf("decode cached view: %w", err)
	}
	return view, true, nil
}

// Set пишет представление под WATCH на ключ инвалидации: Delete из другого
// процесса между проверкой и записью проваливает транзакцию, и запись пропускается.
func (c *RedisCache) Set(ctx context.Context, token string, view TrackingView, readAt time.Time) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	marker := invalidatedKeyPrefix + token
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, marker).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get invalidation: %w", err)
		default:
			at, parseErr := strconv.ParseInt(raw, 10, 64)
			if parseErr == nil && at >= readAt.UnixNano() {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, trackingKeyPrefix+token, data, c.ttl)
			return nil
		})
		return err
	}, marker)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisCache) Delete(ctx context.Context, token string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, invalidatedKeyPrefix+token, strconv.FormatInt(time.Now().UnixNano(), 10), c.ttl)
		pipe.Del(ctx, trackingKeyPrefix+token)
		return nil
	})
	return err
}

// Ping используется health-проверкой.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryOption настраивает MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMemoryTTL задаёт время жизни представлений и отметок инвалидации.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries ограничивает число представлений в памяти; при переполнении
// вытесняются самые старые записи.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func withMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

type memoryEntry struct {
	view      TrackingView
	expiresAt time.Time
	elem      *list.Element
}

type invalidation struct {
	at   time.Time
	elem *list.Element
}

// MemoryCache — кеш в памяти одного процесса с TTL и ограничением размера.
// Инвалидация видна только этому процессу; несколько экземпляров сервиса
// должны работать через RedisCache.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	views       map[string]*memoryEntry
	viewOrder   *list.List
	invalidated map[string]*invalidation
	invOrder    *list.List
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		ttl:         defaultTrackingTTL,
		maxEntries:  defaultMaxCachedViews,
		now:         time.Now,
		views:       make(map[string]*memoryEntry),
		viewOrder:   list.New(),
		invalidated: make(map[string]*invalidation),
		invOrder:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, token string) (TrackingView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.views[token]
	if !ok {
		return TrackingView{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.dropView(token)
		return TrackingView{}, false, nil
	}
	return entry.view, true, nil
}

func (c *MemoryCache) Set(_ context.Context, token string, view TrackingView, readAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.expireInvalidations(now)
	if inv, ok := c.invalidated[token]; ok && !inv.at.Before(readAt) {
		return nil
	}

	if entry, ok := c.views[token]; ok {
		entry.view = view
		entry.expiresAt = now.Add(c.ttl)
		c.viewOrder.MoveToBack(entry.elem)
		return nil
	}
	for len(c.views) >= c.maxEntries {
		c.dropView(c.viewOrder.Front().Value.(string))
	}
	c.views[token] = &memoryEntry{
		view:      view,
		expiresAt: now.Add(c.ttl),
		elem:      c.viewOrder.PushBack(token),
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.dropView(token)
	c.expireInvalidations(now)

	if inv, ok := c.invalidated[token]; ok {
		inv.at = now
		c.invOrder.MoveToBack(inv.elem)
		return nil
	}
	for len(c.invalidated) >= c.maxEntries {
		c.dropInvalidation(c.invOrder.Front().Value.(string))
	}
	c.invalidated[token] = &invalidation{at: now, elem: c.invOrder.PushBack(token)}
	return nil
}

// Len возвращает число живых и ещё не вытесненных представлений.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views)
}

func (c *MemoryCache) dropView(token string) {
	if entry, ok := c.views[token]; ok {
		c.viewOrder.Remove(entry.elem)
		delete(c.views, token)
	}
}

func (c *MemoryCache) dropInvalidation(token string) {
	if inv, ok := c.invalidated[token]; ok {
		c.invOrder.Remove(inv.elem)
		delete(c.invalidated, token)
	}
}

// expireInvalidations снимает отметки старше TTL: запись, начатая раньше,
// всё равно проживёт не дольше TTL.
func (c *MemoryCache) expireInvalidations(now time.Time) {
	for front := c.invOrder.Front(); front != nil; front = c.invOrder.Front() {
		token := front.Value.(string)
		if now.Sub(c.invalidated[token].at) < c.ttl {
			return
		}
		c.dropInvalidation(token)
	}
}

// noopCache отключает кеширование.
type noopCache struct{}

func (noopCache) Get(context.Context, string) (TrackingView, bool, error) {
	return TrackingView{}, false, nil
}
func (noopCache) Set(context.Context, string, TrackingView, time.Time) error { return nil }
func (noopCache) Delete(context.Context, string) error                       { return nil }
