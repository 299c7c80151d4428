// pkg/model/trigger.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TriggerEvent 条件或剧本触发后发布的不可变事件
type TriggerEvent struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Fingerprint string    `gorm:"type:varchar(16);index" json:"fingerprint,omitempty"` // 条件触发时填写
	PlaybookID  string    `gorm:"type:uuid;index" json:"playbook_id,omitempty"`        // 剧本触发时填写
	Symbol      string    `gorm:"type:varchar(20);index" json:"symbol"`
	Timeframe   string    `gorm:"type:varchar(10)" json:"timeframe"`
	TriggeredAt time.Time `gorm:"index" json:"triggered_at"`
	// TriggerValue 使谓词为真的指标取值，用于事后审计
	TriggerValue float64 `gorm:"type:decimal(20,8)" json:"trigger_value"`
	Channel      string  `gorm:"type:varchar(64);index" json:"channel"` // 发布主题
	CreatedAt    time.Time `json:"created_at"`
}

func (e *TriggerEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (TriggerEvent) TableName() string {
	return "trigger_events"
}

// ConditionTopic 条件触发事件的发布主题
func ConditionTopic(fingerprint string) string {
	return "condition." + fingerprint
}

// PlaybookTopic 剧本触发事件的发布主题
func PlaybookTopic(playbookID string) string {
	return "playbook." + playbookID
}
