// pkg/registry/registry.go
package registry

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/normalizer"
)

// 按指纹分片，避免单把全局锁把所有条件的读写串行化
const shardCount = 32

// Store 持久化协作方，注册中心对自己的写要求读写一致
type Store interface {
	SaveCondition(cond *model.Condition) error
	DeleteCondition(fingerprint string) error
	SaveSubscription(sub *model.ConditionSubscription) error
	DeleteSubscription(fingerprint, subscriberID string) error
	UpdateConditionResult(fingerprint string, result bool, at time.Time) error
	UpdateEmptySince(fingerprint string, at *time.Time) error
}

// Registry 条件注册中心，按指纹去重存储条件及其订阅者
type Registry struct {
	shards [shardCount]*shard
	store  Store // 可为nil，纯内存模式（测试用）
}

// NewRegistry 创建注册中心
func NewRegistry(store Store) *Registry {
	r := &Registry{store: store}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

func (r *Registry) shardFor(fingerprint string) *shard {
	return r.shards[xxhash.Sum64String(fingerprint)%shardCount]
}

// Register 规范化并登记条件，已存在时为幂等空操作，返回指纹
// 注册本身不增加订阅计数，订阅只能通过Subscribe建立
func (r *Registry) Register(raw model.RawCondition) (string, error) {
	canon, fingerprint, err := normalizer.NormalizeAndHash(raw)
	if err != nil {
		return "", err
	}

	s := r.shardFor(fingerprint)
	cond, created := s.upsert(fingerprint, canon)
	if created && r.store != nil {
		if err := r.store.SaveCondition(cond); err != nil {
			// 落库失败必须撤销内存插入，否则重试会当成幂等空操作，
			// 条件永远不会持久化，重启即丢
			s.remove(fingerprint)
			return "", fmt.Errorf("持久化条件 %s 失败: %w", fingerprint, err)
		}
	}
	return fingerprint, nil
}

// Subscribe 建立订阅，幂等；指纹不存在时返回ErrNotFound
func (r *Registry) Subscribe(fingerprint, subscriberID, channel string) error {
	if subscriberID == "" {
		return fmt.Errorf("%w: subscriber_id不能为空", model.ErrValidation)
	}
	if channel == "" {
		channel = "alert"
	}

	s := r.shardFor(fingerprint)
	added, err := s.subscribe(fingerprint, subscriberID, channel)
	if err != nil {
		return err
	}
	if added && r.store != nil {
		sub := &model.ConditionSubscription{
			Fingerprint:  fingerprint,
			SubscriberID: subscriberID,
			Channel:      channel,
			CreatedAt:    time.Now(),
		}
		if err := r.store.SaveSubscription(sub); err != nil {
			return fmt.Errorf("持久化订阅失败: %w", err)
		}
		if err := r.store.UpdateEmptySince(fingerprint, nil); err != nil {
			log.Printf("清除条件 %s 空置标记失败: %v", fingerprint, err)
		}
	}
	return nil
}

// Unsubscribe 解除订阅，幂等；最后一个订阅者离开后条件进入TTL保留期而非立即删除
func (r *Registry) Unsubscribe(fingerprint, subscriberID string) error {
	s := r.shardFor(fingerprint)
	removed, emptyAt, err := s.unsubscribe(fingerprint, subscriberID)
	if err != nil {
		return err
	}
	if removed && r.store != nil {
		if err := r.store.DeleteSubscription(fingerprint, subscriberID); err != nil {
			return fmt.Errorf("删除订阅失败: %w", err)
		}
		if emptyAt != nil {
			if err := r.store.UpdateEmptySince(fingerprint, emptyAt); err != nil {
				log.Printf("记录条件 %s 空置时间失败: %v", fingerprint, err)
			}
		}
	}
	return nil
}

// GetStatus 查询条件状态
func (r *Registry) GetStatus(fingerprint string) (model.ConditionStatus, error) {
	return r.shardFor(fingerprint).status(fingerprint)
}

// Subscribers 返回条件的订阅者快照，key为订阅者ID，value为渠道
func (r *Registry) Subscribers(fingerprint string) map[string]string {
	return r.shardFor(fingerprint).subscribers(fingerprint)
}

// Stats 聚合统计，跨分片读取，接受最终一致
func (r *Registry) Stats() model.RegistryStats {
	var stats model.RegistryStats
	pairs := make(map[model.PairKey]bool)
	for _, s := range r.shards {
		s.collectStats(&stats, pairs)
	}
	stats.TotalPairs = len(pairs)
	return stats
}

// PairRequests 枚举所有条件引用的(交易对,周期)二元组及各自需要的指标
// 评估器每tick对每个二元组只拉取一次行情
func (r *Registry) PairRequests() []model.PairRequest {
	byPair := make(map[model.PairKey]map[string]model.IndicatorSpec)
	for _, s := range r.shards {
		s.collectIndicators(byPair)
	}

	reqs := make([]model.PairRequest, 0, len(byPair))
	for pair, specs := range byPair {
		req := model.PairRequest{Pair: pair, Indicators: make([]model.IndicatorSpec, 0, len(specs))}
		keys := make([]string, 0, len(specs))
		for k := range specs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			req.Indicators = append(req.Indicators, specs[k])
		}
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].Pair.String() < reqs[j].Pair.String()
	})
	return reqs
}

// ConditionSnapshot 评估用的条件快照
type ConditionSnapshot struct {
	Fingerprint string
	Canonical   model.CanonicalCondition
	LastResult  *bool
}

// ConditionsForPair 返回引用指定二元组的条件快照
func (r *Registry) ConditionsForPair(pair model.PairKey) []ConditionSnapshot {
	var out []ConditionSnapshot
	for _, s := range r.shards {
		s.collectForPair(pair, &out)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// RecordResult 记录一次评估结果，返回是否发生假→真跳变
// 首次评估即为真同样视作跳变（条件从未知变为成立）
func (r *Registry) RecordResult(fingerprint string, result bool, at time.Time) bool {
	edge := r.shardFor(fingerprint).recordResult(fingerprint, result, at)
	if r.store != nil {
		if err := r.store.UpdateConditionResult(fingerprint, result, at); err != nil {
			log.Printf("更新条件 %s 评估结果失败: %v", fingerprint, err)
		}
	}
	return edge
}

// Result 查询条件最近一次评估结果，供剧本引擎消费
func (r *Registry) Result(fingerprint string) (result bool, evaluated bool) {
	return r.shardFor(fingerprint).result(fingerprint)
}

// Pair 查询条件所在的(交易对,周期)二元组
func (r *Registry) Pair(fingerprint string) (model.PairKey, bool) {
	return r.shardFor(fingerprint).pair(fingerprint)
}

// SweepExpired 回收空置超过ttl的条件，返回被回收的指纹
func (r *Registry) SweepExpired(ttl time.Duration, now time.Time) []string {
	var removed []string
	for _, s := range r.shards {
		removed = append(removed, s.sweep(ttl, now)...)
	}
	if r.store != nil {
		for _, fp := range removed {
			if err := r.store.DeleteCondition(fp); err != nil {
				log.Printf("删除过期条件 %s 失败: %v", fp, err)
			}
		}
	}
	if len(removed) > 0 {
		log.Printf("回收了 %d 个空置条件", len(removed))
	}
	return removed
}

// LoadCondition 启动时从持久层预热，不触发持久化写
func (r *Registry) LoadCondition(cond model.Condition, subs []model.ConditionSubscription) {
	r.shardFor(cond.Fingerprint).load(cond, subs)
}
