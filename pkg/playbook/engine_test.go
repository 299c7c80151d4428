package playbook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/registry"
)

// pbSink 收集剧本触发事件
type pbSink struct {
	mu     sync.Mutex
	events []model.TriggerEvent
}

func (s *pbSink) handle(ev model.TriggerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *pbSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *pbSink) all() []model.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TriggerEvent(nil), s.events...)
}

// testRig 注册两个RSI条件，返回引擎和直接写结果的函数
type testRig struct {
	reg    *registry.Registry
	engine *Engine
	bus    *bus.Bus
	sink   *pbSink
	fps    []string
}

func newTestRig(t *testing.T, conditionCount int) *testRig {
	t.Helper()

	reg := registry.NewRegistry(nil)
	eventBus := bus.NewBus(64)
	sink := &pbSink{}
	eventBus.Subscribe("playbook.*", "sink", sink.handle)

	fps := make([]string, conditionCount)
	for i := 0; i < conditionCount; i++ {
		threshold := float64(30 + i*10)
		fp, err := reg.Register(model.RawCondition{
			Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi",
			Settings: map[string]float64{"period": 14},
			Operator: "<", Value: &threshold,
		})
		require.NoError(t, err)
		fps[i] = fp
	}

	return &testRig{
		reg:    reg,
		engine: NewEngine(reg, eventBus),
		bus:    eventBus,
		sink:   sink,
		fps:    fps,
	}
}

// set 写入条件当tick的评估结果
func (r *testRig) set(fp string, result bool) {
	r.reg.RecordResult(fp, result, time.Now())
}

func (r *testRig) close() {
	r.bus.Close()
}

func entry(fp string, seq int) model.PlaybookEntry {
	return model.PlaybookEntry{
		ID:          fp + "-e",
		Fingerprint: fp,
		Seq:         seq,
		Logic:       model.ChainAnd,
		Enabled:     true,
	}
}

func TestGateAllWithValidityWindow(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e1 := entry(rig.fps[0], 0)
	e1.ValidityDuration = 10
	e1.ValidityUnit = model.ValidityBars
	e2 := entry(rig.fps[1], 1)

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "入场剧本",
		GateLogic: model.GateAll, EvaluationOrder: model.OrderSequential,
		Enabled: true, Entries: []model.PlaybookEntry{e1, e2},
	}))

	now := time.Now()
	// tick1-4: 都不成立
	for bar := int64(1); bar <= 4; bar++ {
		rig.set(rig.fps[0], false)
		rig.set(rig.fps[1], false)
		rig.engine.EvaluateTick(bar, now)
	}
	// tick5: 条件1成立，开10个bar的窗口
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(5, now)
	assert.Equal(t, 0, rig.sink.count())

	// tick6-8: 条件1回落为假但窗口仍有效
	for bar := int64(6); bar <= 8; bar++ {
		rig.set(rig.fps[0], false)
		rig.set(rig.fps[1], false)
		rig.engine.EvaluateTick(bar, now)
	}
	assert.Equal(t, 0, rig.sink.count())

	// tick9: 条件2成立，窗口内的条件1视为真，闸门打开
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(9, now)

	rig.bus.Close()
	events := rig.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "pb-1", events[0].PlaybookID)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)
	assert.NotEmpty(t, events[0].ID)
}

func TestValidityWindowExpires(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e1 := entry(rig.fps[0], 0)
	e1.ValidityDuration = 3
	e1.ValidityUnit = model.ValidityBars
	e2 := entry(rig.fps[1], 1)

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "窗口过期",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{e1, e2},
	}))

	now := time.Now()
	// bar1: 条件1成立，窗口覆盖bar2..bar4
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(1, now)

	rig.set(rig.fps[0], false)
	for bar := int64(2); bar <= 4; bar++ {
		rig.engine.EvaluateTick(bar, now)
	}
	assert.Equal(t, 0, rig.sink.count())

	// bar5: 窗口已过期，条件2成立也不触发
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(5, now)
	assert.Equal(t, 0, rig.sink.count())

	// bar6: 条件1重新成立，两者同时为真，触发
	rig.set(rig.fps[0], true)
	rig.engine.EvaluateTick(6, now)

	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestValidityWindowMinutes(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e1 := entry(rig.fps[0], 0)
	e1.ValidityDuration = 5
	e1.ValidityUnit = model.ValidityMinutes
	e2 := entry(rig.fps[1], 1)

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "分钟窗口",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{e1, e2},
	}))

	t0 := time.Now()
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(1, t0)

	// 4分钟后窗口仍有效
	rig.set(rig.fps[0], false)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(2, t0.Add(4*time.Minute))
	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestValidityWindowMinutesExpired(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e1 := entry(rig.fps[0], 0)
	e1.ValidityDuration = 5
	e1.ValidityUnit = model.ValidityMinutes
	e2 := entry(rig.fps[1], 1)

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "分钟窗口过期",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{e1, e2},
	}))

	t0 := time.Now()
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(1, t0)

	rig.set(rig.fps[0], false)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(2, t0.Add(6*time.Minute))
	rig.bus.Close()
	assert.Equal(t, 0, rig.sink.count())
}

func TestGateRearmsAfterFalse(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "再武装",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{entry(rig.fps[0], 0), entry(rig.fps[1], 1)},
	}))

	now := time.Now()
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(1, now)
	// 持续为真不重复触发
	rig.engine.EvaluateTick(2, now)
	rig.engine.EvaluateTick(3, now)

	// 回到假后重新武装
	rig.set(rig.fps[0], false)
	rig.engine.EvaluateTick(4, now)
	rig.set(rig.fps[0], true)
	rig.engine.EvaluateTick(5, now)

	rig.bus.Close()
	assert.Equal(t, 2, rig.sink.count())
}

func TestGateAny(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "任一成立",
		GateLogic: model.GateAny, Enabled: true,
		Entries: []model.PlaybookEntry{entry(rig.fps[0], 0), entry(rig.fps[1], 1)},
	}))

	now := time.Now()
	rig.set(rig.fps[0], false)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(1, now)

	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestOrChainEntry(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e2 := entry(rig.fps[1], 1)
	e2.Logic = model.ChainOr

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "链式OR",
		GateLogic: model.GateAll, EvaluationOrder: model.OrderSequential,
		Enabled: true, Entries: []model.PlaybookEntry{entry(rig.fps[0], 0), e2},
	}))

	// 条件1为假但条件2用OR接入：链结果为 假 OR 真 = 真
	// ALL闸门检查每一步的链式累计值，第一步为假所以不触发
	now := time.Now()
	rig.set(rig.fps[0], false)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(1, now)
	assert.Equal(t, 0, rig.sink.count())

	// 两者都真则每一步都真
	rig.set(rig.fps[0], true)
	rig.engine.EvaluateTick(2, now)
	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestPriorityOrderAffectsChain(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	// 声明顺序: X(priority 2) 在前、Y(priority 1, OR) 在后
	// priority模式下Y先评估，链为 Y → Y||X，Y单独成立即可打开ALL闸门
	x := entry(rig.fps[0], 0)
	x.Priority = 2
	x.Logic = model.ChainOr
	y := entry(rig.fps[1], 1)
	y.Priority = 1

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "优先级重排",
		GateLogic: model.GateAll, EvaluationOrder: model.OrderPriority,
		Enabled: true, Entries: []model.PlaybookEntry{x, y},
	}))

	now := time.Now()
	rig.set(rig.fps[0], false) // X为假
	rig.set(rig.fps[1], true)  // Y为真
	rig.engine.EvaluateTick(1, now)

	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestPriorityTieKeepsSeqOrder(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	// priority相同，按Seq保持登记顺序: A(Seq 0)先、B(Seq 1, OR)后
	// 链为 A → A||B，A为真即每一步都真；若顺序颠倒则B(假)在前闸门关闭
	a := entry(rig.fps[0], 0)
	a.Priority = 5
	b := entry(rig.fps[1], 1)
	b.Priority = 5
	b.Logic = model.ChainOr

	// 条目按Seq逆序提交，Upsert必须恢复登记顺序
	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "优先级平局",
		GateLogic: model.GateAll, EvaluationOrder: model.OrderPriority,
		Enabled: true, Entries: []model.PlaybookEntry{b, a},
	}))

	now := time.Now()
	rig.set(rig.fps[0], true)  // A为真
	rig.set(rig.fps[1], false) // B为假
	rig.engine.EvaluateTick(1, now)

	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestDisabledEntryExcluded(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "停用条目",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{entry(rig.fps[0], 0), entry(rig.fps[1], 1)},
	}))
	require.NoError(t, rig.engine.SetEntryEnabled("pb-1", rig.fps[1]+"-e", false))

	// 被停用的条目不参与闸门，条件1单独成立即触发
	now := time.Now()
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(1, now)

	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}

func TestEmptyPlaybookNeverFires(t *testing.T) {
	rig := newTestRig(t, 1)
	defer rig.close()

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "空剧本",
		GateLogic: model.GateAll, Enabled: true,
	}))

	rig.engine.EvaluateTick(1, time.Now())
	rig.bus.Close()
	assert.Equal(t, 0, rig.sink.count())
}

func TestDisabledPlaybookSkipped(t *testing.T) {
	rig := newTestRig(t, 1)
	defer rig.close()

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "停用剧本",
		GateLogic: model.GateAll, Enabled: false,
		Entries: []model.PlaybookEntry{entry(rig.fps[0], 0)},
	}))

	rig.set(rig.fps[0], true)
	rig.engine.EvaluateTick(1, time.Now())
	rig.bus.Close()
	assert.Equal(t, 0, rig.sink.count())
}

func TestUpsertResetsWindowState(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e1 := entry(rig.fps[0], 0)
	e1.ValidityDuration = 10
	e1.ValidityUnit = model.ValidityBars
	pb := &model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "更新作废窗口",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{e1, entry(rig.fps[1], 1)},
	}
	require.NoError(t, rig.engine.Upsert(pb))

	now := time.Now()
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(1, now)

	// 更新剧本后旧窗口作废，条件2成立也不触发
	require.NoError(t, rig.engine.Upsert(pb))
	rig.set(rig.fps[0], false)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(2, now)

	rig.bus.Close()
	assert.Equal(t, 0, rig.sink.count())
}

func TestOwnerLookup(t *testing.T) {
	rig := newTestRig(t, 1)
	defer rig.close()

	require.NoError(t, rig.engine.Upsert(&model.Playbook{
		ID: "pb-1", OwnerID: "user-9", Name: "属主", Channel: "bot",
		Enabled: true, Entries: []model.PlaybookEntry{entry(rig.fps[0], 0)},
	}))

	owner, channel, ok := rig.engine.Owner("pb-1")
	require.True(t, ok)
	assert.Equal(t, "user-9", owner)
	assert.Equal(t, "bot", channel)

	_, _, ok = rig.engine.Owner("pb-404")
	assert.False(t, ok)

	_, err := rig.engine.Get("pb-404")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestReloadAllKeepsRetainedState(t *testing.T) {
	rig := newTestRig(t, 2)
	defer rig.close()

	e1 := entry(rig.fps[0], 0)
	e1.ValidityDuration = 10
	e1.ValidityUnit = model.ValidityBars
	pb := &model.Playbook{
		ID: "pb-1", OwnerID: "user-1", Name: "重载保状态",
		GateLogic: model.GateAll, Enabled: true,
		Entries: []model.PlaybookEntry{e1, entry(rig.fps[1], 1)},
	}
	require.NoError(t, rig.engine.Upsert(pb))

	now := time.Now()
	rig.set(rig.fps[0], true)
	rig.set(rig.fps[1], false)
	rig.engine.EvaluateTick(1, now)

	// 定时重载保留在册剧本的窗口状态
	rig.engine.ReloadAll([]*model.Playbook{pb})

	rig.set(rig.fps[0], false)
	rig.set(rig.fps[1], true)
	rig.engine.EvaluateTick(2, now)

	rig.bus.Close()
	assert.Equal(t, 1, rig.sink.count())
}
