// pkg/registry/shard.go
package registry

import (
	"fmt"
	"sync"
	"time"

	"TriggerRadar/pkg/model"
)

// conditionEntry 分片内的条件及其订阅者
type conditionEntry struct {
	cond        model.Condition
	subscribers map[string]string // 订阅者ID -> 渠道
}

// shard 单个分片，内部用读写锁保护
type shard struct {
	mu         sync.RWMutex
	conditions map[string]*conditionEntry
}

func newShard() *shard {
	return &shard{conditions: make(map[string]*conditionEntry)}
}

// upsert 不存在则插入，返回条件与是否新建
// 同一指纹的并发注册在锁内收敛为一条存储记录
func (s *shard) upsert(fingerprint string, canon model.CanonicalCondition) (*model.Condition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.conditions[fingerprint]; exists {
		c := entry.cond
		return &c, false
	}

	entry := &conditionEntry{
		cond: model.Condition{
			Fingerprint: fingerprint,
			Kind:        canon.Kind,
			Symbol:      canon.Symbol,
			Timeframe:   canon.Timeframe,
			Canonical:   canon,
			CreatedAt:   time.Now(),
		},
		subscribers: make(map[string]string),
	}
	s.conditions[fingerprint] = entry
	c := entry.cond
	return &c, true
}

func (s *shard) remove(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conditions, fingerprint)
}

func (s *shard) subscribe(fingerprint, subscriberID, channel string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.conditions[fingerprint]
	if !exists {
		return false, fmt.Errorf("%w: 指纹 %s", model.ErrNotFound, fingerprint)
	}
	if _, dup := entry.subscribers[subscriberID]; dup {
		return false, nil // 重复订阅是空操作
	}
	entry.subscribers[subscriberID] = channel
	entry.cond.EmptySince = nil
	return true, nil
}

func (s *shard) unsubscribe(fingerprint, subscriberID string) (bool, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.conditions[fingerprint]
	if !exists {
		return false, nil, fmt.Errorf("%w: 指纹 %s", model.ErrNotFound, fingerprint)
	}
	if _, ok := entry.subscribers[subscriberID]; !ok {
		return false, nil, nil
	}
	delete(entry.subscribers, subscriberID)

	var emptyAt *time.Time
	if len(entry.subscribers) == 0 {
		now := time.Now()
		entry.cond.EmptySince = &now
		emptyAt = &now
	}
	return true, emptyAt, nil
}

func (s *shard) status(fingerprint string) (model.ConditionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.conditions[fingerprint]
	if !exists {
		return model.ConditionStatus{}, fmt.Errorf("%w: 指纹 %s", model.ErrNotFound, fingerprint)
	}
	return model.ConditionStatus{
		Fingerprint:     fingerprint,
		LastResult:      entry.cond.LastResult,
		LastEvaluatedAt: entry.cond.LastEvaluatedAt,
		SubscriberCount: len(entry.subscribers),
	}, nil
}

func (s *shard) subscribers(fingerprint string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.conditions[fingerprint]
	if !exists {
		return nil
	}
	out := make(map[string]string, len(entry.subscribers))
	for id, ch := range entry.subscribers {
		out[id] = ch
	}
	return out
}

func (s *shard) collectStats(stats *model.RegistryStats, pairs map[model.PairKey]bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.conditions {
		stats.TotalConditions++
		stats.TotalSubscriptions += len(entry.subscribers)
		pairs[model.PairKey{Symbol: entry.cond.Symbol, Timeframe: entry.cond.Timeframe}] = true
	}
}

func (s *shard) collectIndicators(byPair map[model.PairKey]map[string]model.IndicatorSpec) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.conditions {
		pair := model.PairKey{Symbol: entry.cond.Symbol, Timeframe: entry.cond.Timeframe}
		specs, ok := byPair[pair]
		if !ok {
			specs = make(map[string]model.IndicatorSpec)
			byPair[pair] = specs
		}
		canon := entry.cond.Canonical
		specs[canon.Indicator.Key()] = canon.Indicator
		if canon.TargetKind == model.TargetKindIndicator {
			specs[canon.TargetIndicator.Key()] = canon.TargetIndicator
		}
	}
}

func (s *shard) collectForPair(pair model.PairKey, out *[]ConditionSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for fp, entry := range s.conditions {
		if entry.cond.Symbol != pair.Symbol || entry.cond.Timeframe != pair.Timeframe {
			continue
		}
		var last *bool
		if entry.cond.LastResult != nil {
			v := *entry.cond.LastResult
			last = &v
		}
		*out = append(*out, ConditionSnapshot{
			Fingerprint: fp,
			Canonical:   entry.cond.Canonical,
			LastResult:  last,
		})
	}
}

func (s *shard) recordResult(fingerprint string, result bool, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.conditions[fingerprint]
	if !exists {
		return false
	}
	prev := entry.cond.LastResult
	r := result
	t := at
	entry.cond.LastResult = &r
	entry.cond.LastEvaluatedAt = &t
	return result && (prev == nil || !*prev)
}

func (s *shard) result(fingerprint string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.conditions[fingerprint]
	if !exists || entry.cond.LastResult == nil {
		return false, false
	}
	return *entry.cond.LastResult, true
}

func (s *shard) pair(fingerprint string) (model.PairKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.conditions[fingerprint]
	if !exists {
		return model.PairKey{}, false
	}
	return model.PairKey{Symbol: entry.cond.Symbol, Timeframe: entry.cond.Timeframe}, true
}

func (s *shard) sweep(ttl time.Duration, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for fp, entry := range s.conditions {
		if entry.cond.EmptySince != nil && now.Sub(*entry.cond.EmptySince) >= ttl {
			delete(s.conditions, fp)
			removed = append(removed, fp)
		}
	}
	return removed
}

func (s *shard) load(cond model.Condition, subs []model.ConditionSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &conditionEntry{
		cond:        cond,
		subscribers: make(map[string]string, len(subs)),
	}
	for _, sub := range subs {
		entry.subscribers[sub.SubscriberID] = sub.Channel
	}
	s.conditions[cond.Fingerprint] = entry
}
