package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// ErrImageNotFound is returned for unknown or expired images
var ErrImageNotFound = errors.New("image not found")

// StoredImage is an uploaded image as served back to viewers
type StoredImage struct {
	ContentType string
	Data        []byte
}

// ImageStore keeps uploaded images until they expire
type ImageStore interface {
	Put(ctx context.Context, name string, img StoredImage, ttl time.Duration) error
	Get(ctx context.Context, name string) (StoredImage, error)
	Close() error
}

type memoryEntry struct {
	img     StoredImage
	expires time.Time
}

// MemoryStore is an in-process ImageStore
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, name string, img StoredImage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries = lo.OmitBy(s.entries, func(_ string, e memoryEntry) bool {
		return !now.Before(e.expires)
	})
	s.entries[name] = memoryEntry{img: img, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (StoredImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return StoredImage{}, ErrImageNotFound
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, name)
		return StoredImage{}, ErrImageNotFound
	}
	return e.img, nil
}

// Len returns the number of stored images, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

// RedisStore keeps images in redis so several relays can share them
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, prefix: "goflash:img:"}, nil
}

func (s *RedisStore) Put(ctx context.Context, name string, img StoredImage, ttl time.Duration) error {
	key := s.prefix + name
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "type", img.ContentType, "data", img.Data)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store image %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, name string) (StoredImage, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+name).Result()
	if err != nil {
		return StoredImage{}, fmt.Errorf("load image %s: %w", name, err)
	}
	if len(fields) == 0 {
		return StoredImage{}, ErrImageNotFound
	}
	return StoredImage{ContentType: fields["type"], Data: []byte(fields["data"])}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
