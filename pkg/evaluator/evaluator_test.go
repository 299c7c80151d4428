package evaluator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/registry"
)

func floatPtr(v float64) *float64 { return &v }

// fakeSource 按(交易对,周期)回放预置的指标序列，每次Fetch前进一格
type fakeSource struct {
	mu     sync.Mutex
	series map[model.PairKey][]map[string]model.IndicatorValue
	cursor map[model.PairKey]int
	fail   map[model.PairKey]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		series: make(map[model.PairKey][]map[string]model.IndicatorValue),
		cursor: make(map[model.PairKey]int),
		fail:   make(map[model.PairKey]bool),
	}
}

func (f *fakeSource) push(pair model.PairKey, indicators map[string]model.IndicatorValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[pair] = append(f.series[pair], indicators)
}

func (f *fakeSource) setFail(pair model.PairKey, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[pair] = failing
}

func (f *fakeSource) Fetch(ctx context.Context, req model.PairRequest) (*model.MarketState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[req.Pair] {
		return nil, fmt.Errorf("%w: 模拟故障", model.ErrTransientFetch)
	}
	seq := f.series[req.Pair]
	idx := f.cursor[req.Pair]
	if idx >= len(seq) {
		return nil, fmt.Errorf("%w: 数据耗尽", model.ErrTransientFetch)
	}
	f.cursor[req.Pair] = idx + 1
	return &model.MarketState{
		Symbol:     req.Pair.Symbol,
		Timeframe:  req.Pair.Timeframe,
		Indicators: seq[idx],
		FetchedAt:  time.Now(),
	}, nil
}

// eventSink 收集总线上发布的条件触发事件
type eventSink struct {
	mu     sync.Mutex
	events []model.TriggerEvent
}

func (s *eventSink) handle(ev model.TriggerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []model.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TriggerEvent(nil), s.events...)
}

type statusRecorder struct {
	mu      sync.Mutex
	updates []string // component:status
}

func (r *statusRecorder) UpdateStatus(component, status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, component+":"+status)
}

func (r *statusRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...)
}

func rsiValue(prev, curr float64) map[string]model.IndicatorValue {
	return map[string]model.IndicatorValue{
		"rsi(period=14)": {Prev: prev, Curr: curr},
	}
}

func TestTickSingleEdgeEvent(t *testing.T) {
	reg := registry.NewRegistry(nil)
	fp, err := reg.Register(model.RawCondition{
		Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi",
		Settings: map[string]float64{"period": 14},
		Operator: "<", Value: floatPtr(30),
	})
	require.NoError(t, err)

	btc := model.PairKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	source := newFakeSource()
	// RSI走势 32 → 31 → 29 → 28：一次下穿30，只应产生一个事件
	for _, vals := range [][2]float64{{33, 32}, {32, 31}, {31, 29}, {29, 28}} {
		source.push(btc, rsiValue(vals[0], vals[1]))
	}

	eventBus := bus.NewBus(64)
	sink := &eventSink{}
	eventBus.Subscribe("condition.*", "sink", sink.handle)

	eval := NewEvaluator(reg, source, eventBus, nil, nil, Options{})
	for i := 0; i < 4; i++ {
		eval.Tick(context.Background(), time.Now())
	}
	eventBus.Close()

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, fp, events[0].Fingerprint)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)
	assert.Equal(t, "1h", events[0].Timeframe)
	assert.InDelta(t, 29.0, events[0].TriggerValue, 1e-9)
	assert.NotEmpty(t, events[0].ID)
	assert.EqualValues(t, 4, eval.Bar())
}

func TestFetchFailureIsolatesPair(t *testing.T) {
	reg := registry.NewRegistry(nil)
	_, err := reg.Register(model.RawCondition{
		Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi",
		Settings: map[string]float64{"period": 14},
		Operator: "<", Value: floatPtr(30),
	})
	require.NoError(t, err)
	_, err = reg.Register(model.RawCondition{
		Symbol: "ETHUSDT", Timeframe: "1h", Indicator: "rsi",
		Settings: map[string]float64{"period": 14},
		Operator: "<", Value: floatPtr(30),
	})
	require.NoError(t, err)

	btc := model.PairKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	eth := model.PairKey{Symbol: "ETHUSDT", Timeframe: "1h"}
	source := newFakeSource()
	source.push(btc, rsiValue(31, 29))
	source.setFail(eth, true)

	eventBus := bus.NewBus(64)
	sink := &eventSink{}
	eventBus.Subscribe("condition.*", "sink", sink.handle)

	eval := NewEvaluator(reg, source, eventBus, nil, nil, Options{})
	eval.Tick(context.Background(), time.Now())
	eventBus.Close()

	// ETH拉取失败不影响BTC条件正常触发
	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)
}

func TestMissingIndicatorSkipsCondition(t *testing.T) {
	reg := registry.NewRegistry(nil)
	fp, err := reg.Register(model.RawCondition{
		Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi",
		Settings: map[string]float64{"period": 14},
		Operator: "<", Value: floatPtr(30),
	})
	require.NoError(t, err)

	btc := model.PairKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	source := newFakeSource()
	source.push(btc, map[string]model.IndicatorValue{}) // 指标缺失

	eventBus := bus.NewBus(64)
	sink := &eventSink{}
	eventBus.Subscribe("condition.*", "sink", sink.handle)

	eval := NewEvaluator(reg, source, eventBus, nil, nil, Options{})
	eval.Tick(context.Background(), time.Now())
	eventBus.Close()

	// 缺指标的条件本tick不评估，也不更新状态
	assert.Empty(t, sink.all())
	_, evaluated := reg.Result(fp)
	assert.False(t, evaluated)
}

func TestDegradedHealthSignal(t *testing.T) {
	reg := registry.NewRegistry(nil)
	_, err := reg.Register(model.RawCondition{
		Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi",
		Settings: map[string]float64{"period": 14},
		Operator: "<", Value: floatPtr(30),
	})
	require.NoError(t, err)

	btc := model.PairKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	source := newFakeSource()
	source.setFail(btc, true)

	eventBus := bus.NewBus(64)
	defer eventBus.Close()
	health := &statusRecorder{}

	eval := NewEvaluator(reg, source, eventBus, nil, health, Options{DegradedThreshold: 2})

	eval.Tick(context.Background(), time.Now())
	assert.Empty(t, health.all()) // 阈值未到

	eval.Tick(context.Background(), time.Now())
	require.Equal(t, []string{"market_data:degraded"}, health.all())

	// 恢复后回到healthy，且不重复上报degraded
	source.setFail(btc, false)
	source.push(btc, rsiValue(40, 41))
	eval.Tick(context.Background(), time.Now())
	assert.Equal(t, []string{"market_data:degraded", "market_data:healthy"}, health.all())
}

// barCounter 剧本协作方桩，记录每tick传入的bar
type barCounter struct {
	mu   sync.Mutex
	bars []int64
}

func (c *barCounter) EvaluateTick(bar int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars = append(c.bars, bar)
}

func TestPlaybooksRunAfterResults(t *testing.T) {
	reg := registry.NewRegistry(nil)
	source := newFakeSource()
	eventBus := bus.NewBus(64)
	defer eventBus.Close()

	pbs := &barCounter{}
	eval := NewEvaluator(reg, source, eventBus, pbs, nil, Options{})

	eval.Tick(context.Background(), time.Now())
	eval.Tick(context.Background(), time.Now())

	pbs.mu.Lock()
	defer pbs.mu.Unlock()
	// 剧本引擎每tick恰好被调用一次，bar单调递增
	assert.Equal(t, []int64{1, 2}, pbs.bars)
}
