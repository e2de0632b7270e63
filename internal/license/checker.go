package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds one shared backend lookup
const DefaultLookupTimeout = 5 * time.Second

// Checker answers license existence and subscription questions from a Store,
// with an optional cache in front. Concurrent lookups of the same key share
// one backend call, which runs detached from any single caller's context.
type Checker struct {
	store         Store
	cache         *Cache
	group         singleflight.Group
	metrics       *Metrics
	logger        *slog.Logger
	now           func() time.Time
	lookupTimeout time.Duration
}

// NewChecker creates a checker. cache and metrics may be nil.
func NewChecker(store Store, cache *Cache, metrics *Metrics, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		store:         store,
		cache:         cache,
		metrics:       metrics,
		logger:        logger.With(slog.String("component", "license.checker")),
		now:           time.Now,
		lookupTimeout: DefaultLookupTimeout,
	}
}

// LicenseExists reports whether key is known to the store
func (c *Checker) LicenseExists(ctx context.Context, key string) (bool, error) {
	_, found, err := c.lookup(ctx, key)
	return found, err
}

// SubscriptionValid reports whether key names an active, unexpired license.
// Unknown keys are not valid.
func (c *Checker) SubscriptionValid(ctx context.Context, key string) (bool, error) {
	l, found, err := c.lookup(ctx, key)
	if err != nil || !found {
		return false, err
	}
	return l.SubscriptionActive(c.now()), nil
}

// Invalidate drops any cached lookup for key
func (c *Checker) Invalidate(key string) {
	if c.cache != nil {
		c.cache.Invalidate(key)
	}
}

type lookupResult struct {
	license License
	found   bool
}

func (c *Checker) lookup(ctx context.Context, key string) (License, bool, error) {
	if c.cache != nil {
		l, found, ok := c.cache.Get(key)
		c.metrics.recordCache(ctx, ok)
		if ok {
			return l, found, nil
		}
	}

	ch := c.group.DoChan(key, func() (v interface{}, err error) {
		// DoChan runs this on its own goroutine where a panic is fatal
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("license store panicked: %v", r)
			}
		}()

		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		started := time.Now()
		l, found, err := c.store.Get(lookupCtx, key)
		c.metrics.recordBackend(ctx, started, err)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Set(key, l, found)
		}
		return lookupResult{license: l, found: found}, nil
	})

	var (
		v      interface{}
		err    error
		shared bool
	)
	select {
	case res := <-ch:
		v, err, shared = res.Val, res.Err, res.Shared
	case <-ctx.Done():
		// Only this caller gives up; the shared lookup keeps running
		return License{}, false, fmt.Errorf("lookup license: %w", ctx.Err())
	}
	if err != nil {
		c.logger.WarnContext(ctx, "license lookup failed",
			slog.String("license", Fingerprint(key)),
			slog.Bool("shared", shared),
			slog.String("error", err.Error()))
		return License{}, false, fmt.Errorf("lookup license: %w", err)
	}

	res := v.(lookupResult)
	return res.license, res.found, nil
}
