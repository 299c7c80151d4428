// pkg/database/condition.go
package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"TriggerRadar/pkg/model"
)

// ConditionDB 条件与订阅的持久化，实现registry.Store
type ConditionDB struct {
	db *gorm.DB
}

func (c *ConditionDB) SaveCondition(cond *model.Condition) error {
	// 同一指纹的并发注册收敛为一条记录
	err := c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(cond).Error
	if err != nil {
		return fmt.Errorf("保存条件失败: %w", err)
	}
	return nil
}

func (c *ConditionDB) DeleteCondition(fingerprint string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fingerprint = ?", fingerprint).
			Delete(&model.ConditionSubscription{}).Error; err != nil {
			return fmt.Errorf("删除条件订阅失败: %w", err)
		}
		if err := tx.Delete(&model.Condition{}, "fingerprint = ?", fingerprint).Error; err != nil {
			return fmt.Errorf("删除条件失败: %w", err)
		}
		return nil
	})
}

func (c *ConditionDB) SaveSubscription(sub *model.ConditionSubscription) error {
	err := c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}, {Name: "subscriber_id"}},
		DoNothing: true,
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("保存订阅失败: %w", err)
	}
	return nil
}

func (c *ConditionDB) DeleteSubscription(fingerprint, subscriberID string) error {
	return c.db.Where("fingerprint = ? AND subscriber_id = ?", fingerprint, subscriberID).
		Delete(&model.ConditionSubscription{}).Error
}

func (c *ConditionDB) UpdateConditionResult(fingerprint string, result bool, at time.Time) error {
	return c.db.Model(&model.Condition{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]interface{}{
			"last_result":       result,
			"last_evaluated_at": at,
		}).Error
}

func (c *ConditionDB) UpdateEmptySince(fingerprint string, at *time.Time) error {
	return c.db.Model(&model.Condition{}).
		Where("fingerprint = ?", fingerprint).
		Update("empty_since", at).Error
}

// GetAll 启动预热用，取全部条件
func (c *ConditionDB) GetAll() ([]model.Condition, error) {
	var conditions []model.Condition
	if err := c.db.Find(&conditions).Error; err != nil {
		return nil, fmt.Errorf("加载条件失败: %w", err)
	}
	return conditions, nil
}

// GetSubscriptions 取指定条件的全部订阅
func (c *ConditionDB) GetSubscriptions(fingerprint string) ([]model.ConditionSubscription, error) {
	var subs []model.ConditionSubscription
	err := c.db.Where("fingerprint = ?", fingerprint).Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("加载订阅失败: %w", err)
	}
	return subs, nil
}
