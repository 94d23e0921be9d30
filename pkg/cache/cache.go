package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Key joins a namespace and its parts with ':'. Nil parts render as "-".
func Key(namespace string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		if p == nil {
			b.WriteByte('-')
			continue
		}
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// Service defines cache operations interface. Values are stored as JSON.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Close() error
}

var loads singleflight.Group

// LoadTimeout bounds a shared load, which outlives any single caller's context.
var LoadTimeout = 30 * time.Second

// GetOrLoad is cache-aside: on a miss it calls load and stores the result.
// Concurrent misses for the same key share one load that runs detached from
// any caller's cancellation; each caller stops waiting when its own ctx ends.
// Cache failures never fail the call; only load errors are returned.
func GetOrLoad[T any](ctx context.Context, c Service, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, bool, error) {
	var cached T
	if c == nil {
		v, err := load(ctx)
		return v, false, err
	}
	if err := c.Get(ctx, key, &cached); err == nil {
		return cached, true, nil
	}

	ch := loads.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(lctx, key, v, ttl)
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		if v, ok := res.Val.(T); ok {
			return v, false, nil
		}
		v, err := load(ctx)
		return v, false, err
	}
}
