// pkg/database/trigger.go
package database

import (
	"fmt"

	"gorm.io/gorm"

	"TriggerRadar/pkg/model"
)

// TriggerDB 触发事件与分发记录的持久化，实现notifier.DeliveryStore
type TriggerDB struct {
	db *gorm.DB
}

func (t *TriggerDB) SaveTrigger(event *model.TriggerEvent) error {
	if err := t.db.Create(event).Error; err != nil {
		return fmt.Errorf("保存触发事件失败: %w", err)
	}
	return nil
}

func (t *TriggerDB) SaveDelivery(record *model.DeliveryRecord) error {
	if err := t.db.Create(record).Error; err != nil {
		return fmt.Errorf("保存分发记录失败: %w", err)
	}
	return nil
}

// History 查询触发历史，symbol为空时不过滤
func (t *TriggerDB) History(symbol string, limit int) ([]*model.TriggerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := t.db.Order("triggered_at DESC").Limit(limit)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var events []*model.TriggerEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询触发历史失败: %w", err)
	}
	return events, nil
}

// DeliveriesForEvent 查询单个事件的分发记录
func (t *TriggerDB) DeliveriesForEvent(eventID string) ([]*model.DeliveryRecord, error) {
	var records []*model.DeliveryRecord
	err := t.db.Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询分发记录失败: %w", err)
	}
	return records, nil
}
