package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
)

const subscriberCachePrefix = "approval_webhooks:subs:"

// lifecycleEvents lists every event name the workflow can emit. Used to
// invalidate the per-event subscriber cache on webhook CRUD.
var lifecycleEvents = []string{
	model.EventTaskApproved,
	model.EventTaskRejected,
}

// Registry resolves notification endpoints for an event and owns their
// delivery bookkeeping (last_triggered, failure_count).
type Registry struct {
	db    *gorm.DB
	redis *redis.Client
	ttl   time.Duration
}

// NewRegistry creates a registry. rdb may be nil, in which case subscriber
// resolution always hits the database.
func NewRegistry(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{db: db, redis: rdb, ttl: ttl}
}

// ListActiveSubscribers returns every active webhook subscribed to the given
// event, either directly or via the task.status_changed wildcard. The set of
// matching webhook ids is cached in Redis per event name; the rows themselves
// are always read from the database so secrets and bookkeeping stay fresh.
func (r *Registry) ListActiveSubscribers(ctx context.Context, event string) ([]model.ApprovalWebhook, error) {
	if ids, ok := r.cachedSubscriberIDs(ctx, event); ok {
		if len(ids) == 0 {
			return nil, nil
		}
		var hooks []model.ApprovalWebhook
		if err := r.db.WithContext(ctx).
			Where("id IN ? AND is_active = ?", ids, true).
			Find(&hooks).Error; err != nil {
			return nil, err
		}
		return hooks, nil
	}

	var active []model.ApprovalWebhook
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&active).Error; err != nil {
		return nil, err
	}

	var matched []model.ApprovalWebhook
	ids := make([]string, 0, len(active))
	for _, wh := range active {
		if wh.SubscribesTo(event) {
			matched = append(matched, wh)
			ids = append(ids, wh.ID)
		}
	}

	r.cacheSubscriberIDs(ctx, event, ids)
	return matched, nil
}

// RecordSuccess sets last_triggered after a delivery attempt that returned a
// success response. A deleted webhook id is a no-op.
func (r *Registry) RecordSuccess(ctx context.Context, id string, ts time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.ApprovalWebhook{}).
		Where("id = ?", id).
		UpdateColumn("last_triggered", ts).Error
}

// RecordFailure increments failure_count. The increment runs as a single
// UPDATE statement so concurrent failures against the same endpoint never
// lose updates. last_triggered is untouched.
func (r *Registry) RecordFailure(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.ApprovalWebhook{}).
		Where("id = ?", id).
		UpdateColumn("failure_count", gorm.Expr("failure_count + ?", 1)).Error
}

// ResetFailures zeroes failure_count. This is an administrative operation;
// the dispatcher never resets the counter on its own.
func (r *Registry) ResetFailures(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.ApprovalWebhook{}).
		Where("id = ?", id).
		UpdateColumn("failure_count", 0).Error
}

// InvalidateCache drops the cached subscriber sets. Call after any webhook
// create/update/delete so the next dispatch sees the new registration state.
func (r *Registry) InvalidateCache(ctx context.Context) {
	if r.redis == nil {
		return
	}
	keys := make([]string, 0, len(lifecycleEvents))
	for _, event := range lifecycleEvents {
		keys = append(keys, subscriberCachePrefix+event)
	}
	// Cache invalidation failure only means a stale read until TTL expiry
	_ = r.redis.Del(ctx, keys...).Err()
}

func (r *Registry) cachedSubscriberIDs(ctx context.Context, event string) ([]string, bool) {
	if r.redis == nil {
		return nil, false
	}
	raw, err := r.redis.Get(ctx, subscriberCachePrefix+event).Result()
	if err != nil {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (r *Registry) cacheSubscriberIDs(ctx context.Context, event string, ids []string) {
	if r.redis == nil {
		return
	}
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = r.redis.Set(ctx, subscriberCachePrefix+event, raw, r.ttl).Err()
}
