// pkg/playbook/engine.go
package playbook

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/registry"
)

// Engine 剧本规则引擎
// 消费评估器当tick落地的条件结果，从不自己拉取行情
// 条目有效窗口状态(ConditionState)由本引擎独占持有，外部不可读写
type Engine struct {
	registry *registry.Registry
	eventBus *bus.Bus

	mu        sync.RWMutex
	playbooks map[string]*model.Playbook
	states    map[string]map[string]*entryState // playbookID -> entryID -> 窗口状态
	gateOpen  map[string]bool                   // 上一tick闸门是否为真，用于再武装
}

// NewEngine 创建剧本引擎
func NewEngine(reg *registry.Registry, eventBus *bus.Bus) *Engine {
	return &Engine{
		registry:  reg,
		eventBus:  eventBus,
		playbooks: make(map[string]*model.Playbook),
		states:    make(map[string]map[string]*entryState),
		gateOpen:  make(map[string]bool),
	}
}

// Upsert 登记或更新剧本，条目按Seq保持登记顺序
func (e *Engine) Upsert(pb *model.Playbook) error {
	if pb == nil || pb.ID == "" {
		return fmt.Errorf("%w: 剧本ID不能为空", model.ErrValidation)
	}
	cp := *pb
	cp.Entries = make([]model.PlaybookEntry, len(pb.Entries))
	copy(cp.Entries, pb.Entries)
	sort.SliceStable(cp.Entries, func(i, j int) bool { return cp.Entries[i].Seq < cp.Entries[j].Seq })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.playbooks[cp.ID] = &cp
	// 条目集合变了，旧窗口状态一律作废
	delete(e.states, cp.ID)
	delete(e.gateOpen, cp.ID)
	return nil
}

// Remove 移除剧本及其全部窗口状态
func (e *Engine) Remove(playbookID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.playbooks, playbookID)
	delete(e.states, playbookID)
	delete(e.gateOpen, playbookID)
}

// SetEntryEnabled 启用/停用单个条目，不销毁剧本
func (e *Engine) SetEntryEnabled(playbookID, entryID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pb, exists := e.playbooks[playbookID]
	if !exists {
		return fmt.Errorf("%w: 剧本 %s", model.ErrNotFound, playbookID)
	}
	for i := range pb.Entries {
		if pb.Entries[i].ID == entryID {
			pb.Entries[i].Enabled = enabled
			if !enabled {
				if states, ok := e.states[playbookID]; ok {
					delete(states, entryID)
				}
			}
			return nil
		}
	}
	return fmt.Errorf("%w: 条目 %s", model.ErrNotFound, entryID)
}

// Get 查询剧本副本
func (e *Engine) Get(playbookID string) (*model.Playbook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pb, exists := e.playbooks[playbookID]
	if !exists {
		return nil, fmt.Errorf("%w: 剧本 %s", model.ErrNotFound, playbookID)
	}
	cp := *pb
	cp.Entries = append([]model.PlaybookEntry(nil), pb.Entries...)
	return &cp, nil
}

// Owner 查询剧本属主与渠道，通知器分发时使用
func (e *Engine) Owner(playbookID string) (ownerID, channel string, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pb, exists := e.playbooks[playbookID]
	if !exists {
		return "", "", false
	}
	return pb.OwnerID, pb.Channel, true
}

// ReloadAll 整体替换剧本集合，定时任务从持久层重载时使用
// 仍在册的剧本保留窗口状态
func (e *Engine) ReloadAll(pbs []*model.Playbook) {
	next := make(map[string]*model.Playbook, len(pbs))
	for _, pb := range pbs {
		cp := *pb
		cp.Entries = append([]model.PlaybookEntry(nil), pb.Entries...)
		sort.SliceStable(cp.Entries, func(i, j int) bool { return cp.Entries[i].Seq < cp.Entries[j].Seq })
		next[cp.ID] = &cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.states {
		if _, kept := next[id]; !kept {
			delete(e.states, id)
			delete(e.gateOpen, id)
		}
	}
	e.playbooks = next
	log.Printf("剧本引擎重载完成，共 %d 个剧本", len(next))
}

// EvaluateTick 在评估器当tick结果落地后评估全部剧本
// bar为评估tick计数，bars有效窗口以此为刻度
func (e *Engine) EvaluateTick(bar int64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pb := range e.playbooks {
		e.evaluatePlaybook(pb, bar, now)
	}
}

func (e *Engine) evaluatePlaybook(pb *model.Playbook, bar int64, now time.Time) {
	if !pb.Enabled {
		return
	}

	entries := orderedEntries(pb)
	if len(entries) == 0 {
		// 空剧本或全部停用：永远为假，不是错误
		e.gateOpen[pb.ID] = false
		return
	}

	states := e.states[pb.ID]
	if states == nil {
		states = make(map[string]*entryState)
		e.states[pb.ID] = states
	}

	// 逐条目求有效结果并链式合并
	var anyChained, allChained, chain bool
	allChained = true
	satisfiedSet := make(map[string]bool, len(entries))

	for i, entry := range entries {
		effective := e.entryResult(states, entry, bar, now)
		if effective {
			satisfiedSet[entry.ID] = true
		}

		if i == 0 {
			chain = effective
		} else if entry.Logic == model.ChainOr {
			chain = chain || effective
		} else {
			chain = chain && effective
		}

		if chain {
			anyChained = true
		} else {
			allChained = false
		}
	}

	satisfied := allChained
	if pb.GateLogic == model.GateAny {
		satisfied = anyChained
	}

	wasOpen := e.gateOpen[pb.ID]
	e.gateOpen[pb.ID] = satisfied
	if !satisfied || wasOpen {
		// 闸门持续为真不重复触发，必须先回到假才能再次发射
		return
	}

	// 刷新所有成立条目的有效窗口
	for _, entry := range entries {
		if satisfiedSet[entry.ID] && entry.ValidityDuration > 0 {
			states[entry.ID] = newEntryState(entry, bar, now)
		}
	}

	ev := model.TriggerEvent{
		ID:          uuid.New().String(),
		PlaybookID:  pb.ID,
		TriggeredAt: now,
	}
	if pair, ok := e.registry.Pair(entries[0].Fingerprint); ok {
		ev.Symbol = pair.Symbol
		ev.Timeframe = pair.Timeframe
	}
	log.Printf("剧本 %s (%s) 触发", pb.Name, pb.ID)
	e.eventBus.Publish(model.PlaybookTopic(pb.ID), ev)
}

// entryResult 求单个条目的有效结果
// 仍在有效窗口内的条目直接视为真，不重新评估；窗口过期则清除状态
func (e *Engine) entryResult(states map[string]*entryState, entry model.PlaybookEntry, bar int64, now time.Time) bool {
	if st, ok := states[entry.ID]; ok {
		if st.valid(bar, now) {
			return true
		}
		// 过期窗口必须清掉，避免陈旧的"仍有效"复活后续触发
		delete(states, entry.ID)
	}

	result, evaluated := e.registry.Result(entry.Fingerprint)
	if !evaluated || !result {
		return false
	}
	if entry.ValidityDuration > 0 {
		states[entry.ID] = newEntryState(entry, bar, now)
	}
	return true
}

// orderedEntries 确定评估顺序：priority模式按priority稳定排序（平局保持登记顺序），
// sequential模式保持声明顺序；只保留启用的条目
func orderedEntries(pb *model.Playbook) []model.PlaybookEntry {
	entries := make([]model.PlaybookEntry, 0, len(pb.Entries))
	for _, entry := range pb.Entries {
		if entry.Enabled {
			entries = append(entries, entry)
		}
	}
	if pb.EvaluationOrder == model.OrderPriority {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Priority < entries[j].Priority })
	}
	return entries
}
