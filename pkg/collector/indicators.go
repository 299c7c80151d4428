// pkg/collector/indicators.go
package collector

import (
	"log"

	"TriggerRadar/pkg/model"
)

const defaultPeriod = 14

// ComputeIndicators 在K线序列上计算请求的指标，取最近两个取值供交叉判断
// 无法识别或数据不足的指标跳过，引用它的条件当tick不评估
func ComputeIndicators(candles []model.Candle, specs []model.IndicatorSpec) map[string]model.IndicatorValue {
	out := make(map[string]model.IndicatorValue, len(specs))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	for _, spec := range specs {
		var series []float64
		switch spec.Name {
		case "price":
			series = closes
		case "volume":
			series = make([]float64, len(candles))
			for i, c := range candles {
				series[i] = c.Volume
			}
		case "sma":
			series = SMA(closes, periodOf(spec))
		case "ema":
			series = EMA(closes, periodOf(spec))
		case "rsi":
			series = RSI(closes, periodOf(spec))
		default:
			log.Printf("警告: 不支持的指标 %s，跳过", spec.Key())
			continue
		}

		v, ok := lastTwo(series)
		if !ok {
			log.Printf("警告: 指标 %s 数据不足，跳过", spec.Key())
			continue
		}
		out[spec.Key()] = v
	}
	return out
}

func periodOf(spec model.IndicatorSpec) int {
	if p, ok := spec.Settings["period"]; ok && p > 0 {
		return int(p)
	}
	return defaultPeriod
}

func lastTwo(series []float64) (model.IndicatorValue, bool) {
	switch n := len(series); {
	case n == 0:
		return model.IndicatorValue{}, false
	case n == 1:
		return model.IndicatorValue{Prev: series[0], Curr: series[0]}, true
	default:
		return model.IndicatorValue{Prev: series[n-2], Curr: series[n-1]}, true
	}
}

// SMA 简单移动平均，返回与输入末端对齐的序列
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA 指数移动平均，用前period个值的SMA做种子
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)

	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	prev := seed
	for _, v := range values[period:] {
		prev = (v-prev)*k + prev
		out = append(out, prev)
	}
	return out
}

// RSI 相对强弱指标，Wilder平滑
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		var gain, loss float64
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
