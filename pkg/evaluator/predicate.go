// pkg/evaluator/predicate.go
package evaluator

import (
	"TriggerRadar/pkg/model"
)

// EvaluatePredicate 在行情快照上求条件谓词的布尔值
// 返回值依次为：谓词结果、使谓词成立的指标取值、是否可评估
// 指标缺失时不可评估，条件当tick静默跳过
func EvaluatePredicate(canon model.CanonicalCondition, state *model.MarketState) (bool, float64, bool) {
	left, ok := state.Indicator(canon.Indicator.Key())
	if !ok {
		return false, 0, false
	}

	var target model.IndicatorValue
	switch canon.TargetKind {
	case model.TargetKindValue:
		target = model.IndicatorValue{Prev: canon.TargetValue, Curr: canon.TargetValue}
	case model.TargetKindIndicator:
		target, ok = state.Indicator(canon.TargetIndicator.Key())
		if !ok {
			return false, 0, false
		}
	default:
		return false, 0, false
	}

	var result bool
	switch canon.Operator {
	case model.OpLessThan:
		result = left.Curr < target.Curr
	case model.OpGreaterThan:
		result = left.Curr > target.Curr
	case model.OpLessOrEqual:
		result = left.Curr <= target.Curr
	case model.OpGreaterOrEqual:
		result = left.Curr >= target.Curr
	case model.OpCrossesAbove:
		// 上一根在下方或持平，当前根穿到上方
		result = left.Prev <= target.Prev && left.Curr > target.Curr
	case model.OpCrossesBelow:
		result = left.Prev >= target.Prev && left.Curr < target.Curr
	default:
		return false, 0, false
	}

	return result, left.Curr, true
}
