// pkg/evaluator/evaluator.go
package evaluator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/collector"
	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/registry"
)

// Phase tick周期状态机
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseEvaluating
	PhasePublishing
)

// PlaybookEvaluator 剧本引擎在每tick评估结果落地后被调用
type PlaybookEvaluator interface {
	EvaluateTick(bar int64, now time.Time)
}

// HealthReporter 降级健康信号的上报口
type HealthReporter interface {
	UpdateStatus(component, status, message string)
}

// Options 评估器配置
type Options struct {
	Interval          time.Duration // tick间隔
	FetchTimeout      time.Duration // 单次行情拉取超时
	Workers           int           // 并发拉取worker数
	DegradedThreshold int           // 连续失败多少个tick后上报降级
}

// Evaluator 条件评估器
// 每tick对每个(交易对,周期)只拉取一次行情，该对上的所有条件共享这份数据
type Evaluator struct {
	registry  *registry.Registry
	source    collector.MarketDataSource
	eventBus  *bus.Bus
	playbooks PlaybookEvaluator
	health    HealthReporter
	opts      Options

	phase atomic.Int32
	bar   atomic.Int64

	mu         sync.Mutex
	failCounts map[model.PairKey]int
	degraded   bool
}

// NewEvaluator 创建评估器，playbooks和health可为nil
func NewEvaluator(reg *registry.Registry, source collector.MarketDataSource, eventBus *bus.Bus,
	playbooks PlaybookEvaluator, health HealthReporter, opts Options) *Evaluator {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.FetchTimeout <= 0 || opts.FetchTimeout > opts.Interval {
		opts.FetchTimeout = opts.Interval / 2
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = 5
	}
	return &Evaluator{
		registry:   reg,
		source:     source,
		eventBus:   eventBus,
		playbooks:  playbooks,
		health:     health,
		opts:       opts,
		failCounts: make(map[model.PairKey]int),
	}
}

// Phase 当前所处阶段
func (e *Evaluator) Phase() Phase {
	return Phase(e.phase.Load())
}

// Bar 已完成的评估tick计数，剧本的bars有效窗口以此为刻度
func (e *Evaluator) Bar() int64 {
	return e.bar.Load()
}

// Run 固定间隔驱动tick循环，ctx取消后退出
func (e *Evaluator) Run(ctx context.Context) {
	log.Printf("评估器启动，tick间隔 %s", e.opts.Interval)
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("评估器收到停止信号")
			return
		case now := <-ticker.C:
			// 上一个tick还没结束就跳过本次，避免tick叠加
			if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseFetching)) {
				log.Println("警告: 上一个tick尚未完成，跳过本次tick")
				continue
			}
			tickCtx, cancel := context.WithTimeout(ctx, e.opts.Interval)
			e.runTick(tickCtx, now)
			cancel()
			e.phase.Store(int32(PhaseIdle))
		}
	}
}

// Tick 手动驱动一个完整tick，测试以及回放场景使用
func (e *Evaluator) Tick(ctx context.Context, now time.Time) {
	e.phase.Store(int32(PhaseFetching))
	e.runTick(ctx, now)
	e.phase.Store(int32(PhaseIdle))
}

// runTick 执行 FETCHING → EVALUATING → PUBLISHING 一轮
func (e *Evaluator) runTick(ctx context.Context, now time.Time) {
	bar := e.bar.Add(1)

	reqs := e.registry.PairRequests()
	states := e.fetchAll(ctx, reqs)

	e.phase.Store(int32(PhaseEvaluating))
	events := e.evaluateAll(states, now)

	e.phase.Store(int32(PhasePublishing))
	for _, ev := range events {
		e.eventBus.Publish(model.ConditionTopic(ev.Fingerprint), ev)
	}

	// 剧本引擎严格在本tick条件结果落地之后消费
	if e.playbooks != nil {
		e.playbooks.EvaluateTick(bar, now)
	}
}

// fetchAll 并发拉取各二元组行情，单对失败只影响自己
func (e *Evaluator) fetchAll(ctx context.Context, reqs []model.PairRequest) map[model.PairKey]*model.MarketState {
	states := make(map[model.PairKey]*model.MarketState, len(reqs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.opts.Workers)

	for _, req := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(req model.PairRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
			defer cancel()

			state, err := e.source.Fetch(fetchCtx, req)
			if err != nil {
				log.Printf("拉取 %s 行情失败，本tick跳过该对: %v", req.Pair, err)
				e.recordFetchFailure(req.Pair)
				return
			}
			e.recordFetchSuccess(req.Pair)

			mu.Lock()
			states[req.Pair] = state
			mu.Unlock()
		}(req)
	}
	wg.Wait()
	return states
}

// evaluateAll 对拉到行情的每个对评估其全部条件，返回假→真跳变产生的事件
func (e *Evaluator) evaluateAll(states map[model.PairKey]*model.MarketState, now time.Time) []model.TriggerEvent {
	var events []model.TriggerEvent
	for pair, state := range states {
		for _, snap := range e.registry.ConditionsForPair(pair) {
			result, value, ok := EvaluatePredicate(snap.Canonical, state)
			if !ok {
				// 指标缺失，本tick不评估该条件，不算错误
				continue
			}
			edge := e.registry.RecordResult(snap.Fingerprint, result, now)
			if edge {
				events = append(events, model.TriggerEvent{
					ID:           uuid.New().String(),
					Fingerprint:  snap.Fingerprint,
					Symbol:       pair.Symbol,
					Timeframe:    pair.Timeframe,
					TriggeredAt:  now,
					TriggerValue: value,
				})
			}
		}
	}
	return events
}

func (e *Evaluator) recordFetchFailure(pair model.PairKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failCounts[pair]++
	if e.failCounts[pair] >= e.opts.DegradedThreshold && !e.degraded {
		e.degraded = true
		if e.health != nil {
			e.health.UpdateStatus("market_data", "degraded",
				pair.String()+" 连续拉取失败超过阈值")
		}
	}
}

func (e *Evaluator) recordFetchSuccess(pair model.PairKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.failCounts, pair)
	if e.degraded && len(e.failCounts) == 0 {
		e.degraded = false
		if e.health != nil {
			e.health.UpdateStatus("market_data", "healthy", "")
		}
	}
}
