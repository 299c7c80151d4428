package model

import (
	"fmt"
	"time"
)

// Candle K线数据
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndicatorValue 指标在最近两根K线上的取值，交叉判断需要前值
type IndicatorValue struct {
	Prev float64 `json:"prev"`
	Curr float64 `json:"curr"`
}

// MarketState 单个(交易对,周期)在一个tick内的行情快照
// 同一对上的所有条件共享这一份数据，这是集中评估省成本的关键
type MarketState struct {
	Symbol     string                    `json:"symbol"`
	Timeframe  string                    `json:"timeframe"`
	Candles    []Candle                  `json:"candles"`
	Indicators map[string]IndicatorValue `json:"indicators"` // key = IndicatorSpec.Key()
	FetchedAt  time.Time                 `json:"fetched_at"`
}

// Indicator 按规范化key查指标值
func (m *MarketState) Indicator(key string) (IndicatorValue, bool) {
	v, ok := m.Indicators[key]
	return v, ok
}

// PairKey (交易对,周期)二元组
type PairKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func (p PairKey) String() string {
	return fmt.Sprintf("%s/%s", p.Symbol, p.Timeframe)
}

// PairRequest 一次tick中某个二元组需要拉取的内容
type PairRequest struct {
	Pair       PairKey
	Indicators []IndicatorSpec // 去重后的指标清单
}
