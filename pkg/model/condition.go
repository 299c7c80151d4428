// pkg/model/condition.go
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConditionKind 条件变体枚举
type ConditionKind string

const (
	ConditionKindIndicator ConditionKind = "indicator" // 指标条件
	ConditionKindPrice     ConditionKind = "price"     // 价格条件
)

// Operator 比较运算符
type Operator string

const (
	OpLessThan       Operator = "<"
	OpGreaterThan    Operator = ">"
	OpLessOrEqual    Operator = "<="
	OpGreaterOrEqual Operator = ">="
	OpCrossesAbove   Operator = "crosses_above"
	OpCrossesBelow   Operator = "crosses_below"
)

// TargetKind 比较目标类型
type TargetKind string

const (
	TargetKindValue     TargetKind = "value"     // 比较字面数值
	TargetKindIndicator TargetKind = "indicator" // 比较另一个指标
)

// RawCondition 注册入口的原始条件描述，字段顺序、大小写不限
type RawCondition struct {
	Kind            string             `json:"kind,omitempty"`
	Symbol          string             `json:"symbol"`
	Timeframe       string             `json:"timeframe"`
	Indicator       string             `json:"indicator,omitempty"`
	Period          *int               `json:"period,omitempty"` // settings.period 的简写
	Settings        map[string]float64 `json:"settings,omitempty"`
	Operator        string             `json:"operator"`
	Value           *float64           `json:"value,omitempty"`
	TargetIndicator string             `json:"target_indicator,omitempty"`
	TargetSettings  map[string]float64 `json:"target_settings,omitempty"`
}

// IndicatorSpec 指标及其参数
type IndicatorSpec struct {
	Name     string             `json:"name"`
	Settings map[string]float64 `json:"settings,omitempty"`
}

// Key 指标的规范化标识，参数按键名排序
func (s IndicatorSpec) Key() string {
	if len(s.Settings) == 0 {
		return s.Name
	}

	keys := make([]string, 0, len(s.Settings))
	for k := range s.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, FormatCanonicalNumber(s.Settings[k])))
	}
	return fmt.Sprintf("%s(%s)", s.Name, strings.Join(parts, ","))
}

// CanonicalCondition 规范化后的条件，指纹的唯一来源
type CanonicalCondition struct {
	Kind            ConditionKind `json:"kind"`
	Symbol          string        `json:"symbol"`
	Timeframe       string        `json:"timeframe"`
	Indicator       IndicatorSpec `json:"indicator"`
	Operator        Operator      `json:"operator"`
	TargetKind      TargetKind    `json:"target_kind"`
	TargetValue     float64       `json:"target_value,omitempty"`
	TargetIndicator IndicatorSpec `json:"target_indicator,omitempty"`
}

// Condition 去重后的条件记录
type Condition struct {
	Fingerprint     string             `gorm:"type:varchar(16);primaryKey" json:"fingerprint"`
	Kind            ConditionKind      `gorm:"type:varchar(20);not null" json:"kind"`
	Symbol          string             `gorm:"type:varchar(20);not null;index" json:"symbol"`
	Timeframe       string             `gorm:"type:varchar(10);not null;index" json:"timeframe"`
	Canonical       CanonicalCondition `gorm:"serializer:json" json:"canonical"`
	CreatedAt       time.Time          `json:"created_at"`
	LastEvaluatedAt *time.Time         `json:"last_evaluated_at"`
	LastResult      *bool              `json:"last_result"`
	// EmptySince 订阅数归零的时刻，留给TTL回收扫描
	EmptySince *time.Time `gorm:"index" json:"empty_since,omitempty"`
}

func (Condition) TableName() string {
	return "conditions"
}

// ConditionSubscription 订阅者与条件的多对多关联
type ConditionSubscription struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Fingerprint  string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_fp_subscriber" json:"fingerprint"`
	SubscriberID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_fp_subscriber" json:"subscriber_id"`
	Channel      string    `gorm:"type:varchar(20);default:'alert'" json:"channel"` // alert, bot
	CreatedAt    time.Time `json:"created_at"`
}

func (s *ConditionSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

func (ConditionSubscription) TableName() string {
	return "condition_subscriptions"
}

// ConditionStatus 条件状态查询结果
type ConditionStatus struct {
	Fingerprint     string     `json:"fingerprint"`
	LastResult      *bool      `json:"last_result"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at"`
	SubscriberCount int        `json:"subscriber_count"`
}

// RegistryStats 注册中心聚合统计
type RegistryStats struct {
	TotalConditions    int `json:"total_conditions"`
	TotalSubscriptions int `json:"total_subscriptions"`
	TotalPairs         int `json:"total_pairs"`
}

// FormatCanonicalNumber 数值的规范化文本，固定8位精度后去掉尾零
// 保证 30、30.0、3e1 落到同一个指纹
func FormatCanonicalNumber(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
