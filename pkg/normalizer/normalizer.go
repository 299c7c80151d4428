// pkg/normalizer/normalizer.go
package normalizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"

	"TriggerRadar/pkg/model"
)

// 数值统一舍入到8位小数再参与指纹计算
const canonicalPrecision = 1e8

// PriceIndicator 价格条件使用的内置指标名
const PriceIndicator = "price"

var validOperators = map[model.Operator]bool{
	model.OpLessThan:       true,
	model.OpGreaterThan:    true,
	model.OpLessOrEqual:    true,
	model.OpGreaterOrEqual: true,
	model.OpCrossesAbove:   true,
	model.OpCrossesBelow:   true,
}

// Normalize 把原始条件描述规范化为标准形式
// 对任意结构合法的输入是确定且全函数的；非法输入返回包装了ErrValidation的错误
func Normalize(raw model.RawCondition) (model.CanonicalCondition, error) {
	var canon model.CanonicalCondition

	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return canon, fmt.Errorf("%w: symbol不能为空", model.ErrValidation)
	}

	timeframe := strings.ToLower(strings.TrimSpace(raw.Timeframe))
	if timeframe == "" {
		return canon, fmt.Errorf("%w: timeframe不能为空", model.ErrValidation)
	}

	op := model.Operator(strings.ToLower(strings.TrimSpace(raw.Operator)))
	if !validOperators[op] {
		return canon, fmt.Errorf("%w: 不支持的运算符 %q", model.ErrValidation, raw.Operator)
	}

	kind := model.ConditionKind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	indicator := strings.ToLower(strings.TrimSpace(raw.Indicator))
	switch kind {
	case "":
		// 未声明变体时按指标名推断
		if indicator == "" || indicator == PriceIndicator {
			kind = model.ConditionKindPrice
		} else {
			kind = model.ConditionKindIndicator
		}
	case model.ConditionKindIndicator, model.ConditionKindPrice:
	default:
		return canon, fmt.Errorf("%w: 未知的条件变体 %q", model.ErrValidation, raw.Kind)
	}

	if kind == model.ConditionKindPrice {
		indicator = PriceIndicator
	} else if indicator == "" {
		return canon, fmt.Errorf("%w: 指标条件必须提供indicator", model.ErrValidation)
	}

	settings := normalizeSettings(raw.Settings)
	if raw.Period != nil {
		if *raw.Period <= 0 {
			return canon, fmt.Errorf("%w: period必须为正数", model.ErrValidation)
		}
		if settings == nil {
			settings = make(map[string]float64, 1)
		}
		settings["period"] = float64(*raw.Period)
	}
	if kind == model.ConditionKindPrice {
		settings = nil
	}

	canon = model.CanonicalCondition{
		Kind:      kind,
		Symbol:    symbol,
		Timeframe: timeframe,
		Operator:  op,
		Indicator: model.IndicatorSpec{Name: indicator, Settings: settings},
	}

	targetIndicator := strings.ToLower(strings.TrimSpace(raw.TargetIndicator))
	switch {
	case raw.Value != nil && targetIndicator != "":
		return canon, fmt.Errorf("%w: value与target_indicator只能二选一", model.ErrValidation)
	case raw.Value != nil:
		v := roundCanonical(*raw.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return canon, fmt.Errorf("%w: 比较值必须是有限数", model.ErrValidation)
		}
		canon.TargetKind = model.TargetKindValue
		canon.TargetValue = v
	case targetIndicator != "":
		canon.TargetKind = model.TargetKindIndicator
		canon.TargetIndicator = model.IndicatorSpec{
			Name:     targetIndicator,
			Settings: normalizeSettings(raw.TargetSettings),
		}
	default:
		return canon, fmt.Errorf("%w: 缺少比较目标", model.ErrValidation)
	}

	return canon, nil
}

// Fingerprint 计算规范化条件的稳定指纹
// 规范化序列化后取xxhash64，对几万量级的条件基数碰撞概率可忽略
func Fingerprint(canon model.CanonicalCondition) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonicalString(canon)))
}

// NormalizeAndHash 注册入口的一步到位封装
func NormalizeAndHash(raw model.RawCondition) (model.CanonicalCondition, string, error) {
	canon, err := Normalize(raw)
	if err != nil {
		return canon, "", err
	}
	return canon, Fingerprint(canon), nil
}

// canonicalString 指纹的序列化形式，字段顺序固定，map按键排序
func canonicalString(c model.CanonicalCondition) string {
	var b strings.Builder
	b.WriteString(string(c.Kind))
	b.WriteByte('|')
	b.WriteString(c.Symbol)
	b.WriteByte('|')
	b.WriteString(c.Timeframe)
	b.WriteByte('|')
	b.WriteString(c.Indicator.Key())
	b.WriteByte('|')
	b.WriteString(string(c.Operator))
	b.WriteByte('|')
	if c.TargetKind == model.TargetKindValue {
		b.WriteString("value:")
		b.WriteString(model.FormatCanonicalNumber(c.TargetValue))
	} else {
		b.WriteString("indicator:")
		b.WriteString(c.TargetIndicator.Key())
	}
	return b.String()
}

func normalizeSettings(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = roundCanonical(v)
	}
	return out
}

func roundCanonical(v float64) float64 {
	return math.Round(v*canonicalPrecision) / canonicalPrecision
}
