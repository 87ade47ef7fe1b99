package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assessment/internal/config"
)

// RedisBackend keeps closure rules in Redis for deployments without a cloud
// scheduler. A sorted set indexes rules by fire time; the closure dispatcher
// claims due rules from it.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend creates a RedisBackend.
func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func ruleARN(name string) string {
	return "redis:rule/" + name
}

// PutRule stores the rule definition and (re)indexes it at fireAt.
func (b *RedisBackend) PutRule(ctx context.Context, name, expression string, fireAt time.Time) (string, error) {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, config.WorkerKey.SchedulerRuleKey(name),
			"name", name,
			"expression", expression,
			"fire_at", fireAt.UTC().Format(time.RFC3339),
		)
		p.ZAdd(ctx, config.WorkerKey.SchedulerRuleIndex, redis.Z{Score: float64(fireAt.Unix()), Member: name})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("put rule: %w", err)
	}
	return ruleARN(name), nil
}

// PutTarget attaches payload for targetID to the rule.
func (b *RedisBackend) PutTarget(ctx context.Context, ruleName, targetID string, payload []byte) error {
	exists, err := b.rdb.Exists(ctx, config.WorkerKey.SchedulerRuleKey(ruleName)).Result()
	if err != nil {
		return fmt.Errorf("put target: %w", err)
	}
	if exists == 0 {
		return ErrRuleNotFound
	}
	if err := b.rdb.HSet(ctx, config.WorkerKey.SchedulerTargetsKey(ruleName), targetID, payload).Err(); err != nil {
		return fmt.Errorf("put target: %w", err)
	}
	return nil
}

// GrantInvokePermission allows the rule identified by sourceRuleARN to invoke targetID.
func (b *RedisBackend) GrantInvokePermission(ctx context.Context, targetID, _ string, sourceRuleARN string) error {
	if err := b.rdb.SAdd(ctx, config.WorkerKey.SchedulerPermissionsKey(targetID), sourceRuleARN).Err(); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// DeleteRule removes the rule, its targets and the permissions it was granted.
func (b *RedisBackend) DeleteRule(ctx context.Context, name string) error {
	targets, err := b.rdb.HKeys(ctx, config.WorkerKey.SchedulerTargetsKey(name)).Result()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	var removed *redis.IntCmd
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range targets {
			p.SRem(ctx, config.WorkerKey.SchedulerPermissionsKey(t), ruleARN(name))
		}
		p.ZRem(ctx, config.WorkerKey.SchedulerRuleIndex, name)
		removed = p.Del(ctx, config.WorkerKey.SchedulerRuleKey(name), config.WorkerKey.SchedulerTargetsKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if removed.Val() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Invocation is one target call produced by a fired rule.
type Invocation struct {
	Rule     string
	TargetID string
	Payload  []byte
}

// ClaimDue removes every rule due at now from the index and returns the target
// invocations it is permitted to make. ZREM decides the claim, so with several
// dispatchers each rule fires on exactly one of them.
func (b *RedisBackend) ClaimDue(ctx context.Context, now time.Time) ([]Invocation, error) {
	names, err := b.rdb.ZRangeByScore(ctx, config.WorkerKey.SchedulerRuleIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan due rules: %w", err)
	}

	var out []Invocation
	for _, name := range names {
		claimed, err := b.rdb.ZRem(ctx, config.WorkerKey.SchedulerRuleIndex, name).Result()
		if err != nil {
			return out, fmt.Errorf("claim rule %s: %w", name, err)
		}
		if claimed == 0 {
			continue
		}

		targets, err := b.rdb.HGetAll(ctx, config.WorkerKey.SchedulerTargetsKey(name)).Result()
		if err != nil {
			return out, fmt.Errorf("load targets of %s: %w", name, err)
		}
		for targetID, payload := range targets {
			allowed, err := b.rdb.SIsMember(ctx, config.WorkerKey.SchedulerPermissionsKey(targetID), ruleARN(name)).Result()
			if err != nil {
				return out, fmt.Errorf("check permission of %s: %w", name, err)
			}
			if !allowed {
				continue
			}
			out = append(out, Invocation{Rule: name, TargetID: targetID, Payload: []byte(payload)})
		}
	}
	return out, nil
}
