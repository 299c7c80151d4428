// pkg/database/playbook.go
package database

import (
	"fmt"

	"gorm.io/gorm"

	"TriggerRadar/pkg/model"
)

// PlaybookDB 剧本持久化
type PlaybookDB struct {
	db *gorm.DB
}

func (p *PlaybookDB) Save(pb *model.Playbook) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(pb).Error; err != nil {
			return fmt.Errorf("保存剧本失败: %w", err)
		}
		for i := range pb.Entries {
			pb.Entries[i].PlaybookID = pb.ID
			if err := tx.Save(&pb.Entries[i]).Error; err != nil {
				return fmt.Errorf("保存剧本条目失败: %w", err)
			}
		}
		return nil
	})
}

func (p *PlaybookDB) GetByID(playbookID string) (*model.Playbook, error) {
	var pb model.Playbook
	err := p.db.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&pb, "id = ?", playbookID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: 剧本 %s", model.ErrNotFound, playbookID)
		}
		return nil, fmt.Errorf("获取剧本失败: %w", err)
	}
	return &pb, nil
}

// GetAllEnabled 取全部启用的剧本，引擎重载用
func (p *PlaybookDB) GetAllEnabled() ([]*model.Playbook, error) {
	var pbs []*model.Playbook
	err := p.db.Where("enabled = ?", true).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Find(&pbs).Error
	if err != nil {
		return nil, fmt.Errorf("加载剧本失败: %w", err)
	}
	return pbs, nil
}

func (p *PlaybookDB) Delete(playbookID string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playbook_id = ?", playbookID).
			Delete(&model.PlaybookEntry{}).Error; err != nil {
			return fmt.Errorf("删除剧本条目失败: %w", err)
		}
		if err := tx.Delete(&model.Playbook{}, "id = ?", playbookID).Error; err != nil {
			return fmt.Errorf("删除剧本失败: %w", err)
		}
		return nil
	})
}

func (p *PlaybookDB) SetEntryEnabled(entryID string, enabled bool) error {
	return p.db.Model(&model.PlaybookEntry{}).
		Where("id = ?", entryID).
		Update("enabled", enabled).Error
}
