package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/loanadmin/pkg/config"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
)

const capabilityKeyPrefix = "loanadmin:rbac:caps:"

func capabilityKey(roleID int64) string {
	return fmt.Sprintf("%s%d", capabilityKeyPrefix, roleID)
}

// PermissionChecker resolves RoleCapabilities. With caching enabled it
// consults an in-process LRU, then Redis, then the database; disabled, every
// call reads the database.
type PermissionChecker struct {
	store    *Store
	l1       *expirable.LRU[int64, *RoleCapabilities]
	redis    *postgres.RedisClient
	redisTTL time.Duration
	metrics  *observability.Metrics
	enabled  bool
}

// NewPermissionChecker creates a checker. redis and metrics may be nil.
func NewPermissionChecker(store *Store, cfg config.CacheConfig, redis *postgres.RedisClient, metrics *observability.Metrics) *PermissionChecker {
	pc := &PermissionChecker{
		store:    store,
		redis:    redis,
		redisTTL: cfg.RedisTTL,
		metrics:  metrics,
		enabled:  cfg.Enabled,
	}
	if cfg.Enabled {
		size := cfg.L1Size
		if size <= 0 {
			size = 1024
		}
		pc.l1 = expirable.NewLRU[int64, *RoleCapabilities](size, nil, cfg.L1TTL)
	}
	return pc
}

// Capabilities returns the role's capabilities
func (pc *PermissionChecker) Capabilities(ctx context.Context, roleID int64) (*RoleCapabilities, error) {
	if !pc.enabled {
		return pc.load(ctx, roleID)
	}

	if caps, ok := pc.l1.Get(roleID); ok {
		pc.metrics.RecordCache("l1", true)
		return caps, nil
	}
	pc.metrics.RecordCache("l1", false)

	if pc.redis != nil {
		var snap capabilitySnapshot
		found, err := pc.redis.GetJSON(ctx, capabilityKey(roleID), &snap)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Warn("capability cache read failed")
		}
		pc.metrics.RecordCache("redis", found)
		if found {
			caps := snap.capabilities()
			pc.l1.Add(roleID, caps)
			return caps, nil
		}
	}

	caps, err := pc.load(ctx, roleID)
	if err != nil {
		return nil, err
	}

	pc.l1.Add(roleID, caps)
	if pc.redis != nil {
		if err := pc.redis.SetJSON(ctx, capabilityKey(roleID), caps.snapshot(), pc.redisTTL); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("capability cache write failed")
		}
	}
	return caps, nil
}

func (pc *PermissionChecker) load(ctx context.Context, roleID int64) (*RoleCapabilities, error) {
	role, err := pc.store.GetRoleRecord(ctx, roleID)
	if err != nil {
		return nil, err
	}

	protected := pc.store.IsProtected(role)
	var names []string
	if protected {
		names, err = pc.store.AllPermissionNames(ctx)
	} else {
		names, err = pc.store.RolePermissionNames(ctx, roleID)
	}
	if err != nil {
		return nil, err
	}

	return NewRoleCapabilities(*role, protected, names), nil
}

// Invalidate drops one role from both cache tiers
func (pc *PermissionChecker) Invalidate(ctx context.Context, roleID int64) error {
	if !pc.enabled {
		return nil
	}
	pc.l1.Remove(roleID)
	if pc.redis == nil {
		return nil
	}
	return pc.redis.Delete(ctx, capabilityKey(roleID))
}

// InvalidateAll empties both cache tiers
func (pc *PermissionChecker) InvalidateAll(ctx context.Context) error {
	if !pc.enabled {
		return nil
	}
	pc.l1.Purge()
	if pc.redis == nil {
		return nil
	}
	return pc.redis.InvalidatePatterns(ctx, capabilityKeyPrefix+"*")
}
