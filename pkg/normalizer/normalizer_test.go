package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TriggerRadar/pkg/model"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestNormalizeEquivalentInputs(t *testing.T) {
	// 语义等价但外观不同的输入必须落到同一个指纹
	base := model.RawCondition{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "RSI",
		Period:    intPtr(14),
		Operator:  "<",
		Value:     floatPtr(30),
	}

	variants := []model.RawCondition{
		{
			Symbol:    "btcusdt",
			Timeframe: "1H",
			Indicator: "rsi",
			Settings:  map[string]float64{"PERIOD": 14},
			Operator:  "<",
			Value:     floatPtr(30.0),
		},
		{
			Symbol:    " BTCUSDT ",
			Timeframe: "1h",
			Indicator: "Rsi",
			Period:    intPtr(14),
			Operator:  "<",
			Value:     floatPtr(30.00000000),
		},
		{
			Kind:      "indicator",
			Symbol:    "BtcUsdt",
			Timeframe: "1h",
			Indicator: "RSI",
			Settings:  map[string]float64{"period": 14},
			Operator:  " < ",
			Value:     floatPtr(30),
		},
	}

	_, want, err := NormalizeAndHash(base)
	require.NoError(t, err)

	for i, raw := range variants {
		_, got, err := NormalizeAndHash(raw)
		require.NoError(t, err, "变体 %d", i)
		assert.Equal(t, want, got, "变体 %d 指纹不一致", i)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := model.RawCondition{
		Symbol:    "ethusdt",
		Timeframe: "15M",
		Indicator: "ema",
		Settings:  map[string]float64{"period": 9},
		Operator:  "crosses_above",
		TargetIndicator: "EMA",
		TargetSettings:  map[string]float64{"period": 21},
	}

	canon, fp1, err := NormalizeAndHash(raw)
	require.NoError(t, err)

	// 已规范化的条件再次哈希得到相同指纹
	assert.Equal(t, fp1, Fingerprint(canon))
	assert.Equal(t, "ETHUSDT", canon.Symbol)
	assert.Equal(t, "15m", canon.Timeframe)
	assert.Equal(t, model.TargetKindIndicator, canon.TargetKind)
	assert.Equal(t, "ema(period=21)", canon.TargetIndicator.Key())
}

func TestNormalizeNumericPrecision(t *testing.T) {
	a := model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: "<", Value: floatPtr(30)}
	b := model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: "<", Value: floatPtr(30.000000001)}

	_, fpA, err := NormalizeAndHash(a)
	require.NoError(t, err)
	_, fpB, err := NormalizeAndHash(b)
	require.NoError(t, err)

	// 8位精度以内的差异视为同一个值
	assert.Equal(t, fpA, fpB)
}

func TestNormalizeDistinctConditions(t *testing.T) {
	a := model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: "<", Value: floatPtr(30)}
	b := model.RawCondition{Symbol: "BTCUSDT", Timeframe: "4h", Indicator: "rsi", Operator: "<", Value: floatPtr(30)}
	c := model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: ">", Value: floatPtr(30)}

	_, fpA, _ := NormalizeAndHash(a)
	_, fpB, _ := NormalizeAndHash(b)
	_, fpC, _ := NormalizeAndHash(c)

	assert.NotEqual(t, fpA, fpB)
	assert.NotEqual(t, fpA, fpC)
	assert.NotEqual(t, fpB, fpC)
}

func TestNormalizePriceCondition(t *testing.T) {
	canon, _, err := NormalizeAndHash(model.RawCondition{
		Symbol:    "btcusdt",
		Timeframe: "1h",
		Operator:  ">",
		Value:     floatPtr(65000),
	})
	require.NoError(t, err)

	// 没有指标名时推断为价格条件
	assert.Equal(t, model.ConditionKindPrice, canon.Kind)
	assert.Equal(t, "price", canon.Indicator.Name)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  model.RawCondition
	}{
		{"缺少symbol", model.RawCondition{Timeframe: "1h", Indicator: "rsi", Operator: "<", Value: floatPtr(30)}},
		{"缺少timeframe", model.RawCondition{Symbol: "BTCUSDT", Indicator: "rsi", Operator: "<", Value: floatPtr(30)}},
		{"未知运算符", model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: "between", Value: floatPtr(30)}},
		{"缺少比较目标", model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: "<"}},
		{"目标二选一冲突", model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Operator: "<", Value: floatPtr(30), TargetIndicator: "ema"}},
		{"非法period", model.RawCondition{Symbol: "BTCUSDT", Timeframe: "1h", Indicator: "rsi", Period: intPtr(-1), Operator: "<", Value: floatPtr(30)}},
		{"未知变体", model.RawCondition{Kind: "volume_profile", Symbol: "BTCUSDT", Timeframe: "1h", Operator: "<", Value: floatPtr(30)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NormalizeAndHash(tc.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrValidation))
		})
	}
}
