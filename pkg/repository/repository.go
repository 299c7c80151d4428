// pkg/repository/repository.go
package repository

import (
	"fmt"
	"log"

	"TriggerRadar/pkg/database"
	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/playbook"
	"TriggerRadar/pkg/registry"
)

// ConditionSource 条件与订阅的读取口
type ConditionSource interface {
	GetAll() ([]model.Condition, error)
	GetSubscriptions(fingerprint string) ([]model.ConditionSubscription, error)
}

// PlaybookSource 剧本的读取口
type PlaybookSource interface {
	GetAllEnabled() ([]*model.Playbook, error)
}

// Repository 启动预热与定时重载的数据仓库
type Repository struct {
	conditions ConditionSource
	playbooks  PlaybookSource
}

// NewRepository 创建数据仓库
func NewRepository(db *database.Postgres) *Repository {
	return &Repository{
		conditions: db.Condition(),
		playbooks:  db.Playbook(),
	}
}

// WarmLoad 启动时把持久化的条件、订阅、剧本灌进内存
// 必须在第一个tick之前完成
func (r *Repository) WarmLoad(reg *registry.Registry, engine *playbook.Engine) error {
	if err := r.ReloadConditions(reg); err != nil {
		return err
	}
	if engine != nil {
		if err := r.ReloadPlaybooks(engine); err != nil {
			return err
		}
	}
	return nil
}

// ReloadConditions 从持久层重载条件与订阅
// API进程新登记的条件和订阅经由这里进入评估进程的注册中心
func (r *Repository) ReloadConditions(reg *registry.Registry) error {
	conditions, err := r.conditions.GetAll()
	if err != nil {
		return fmt.Errorf("加载条件失败: %w", err)
	}
	for _, cond := range conditions {
		subs, err := r.conditions.GetSubscriptions(cond.Fingerprint)
		if err != nil {
			return fmt.Errorf("加载条件 %s 的订阅失败: %w", cond.Fingerprint, err)
		}
		reg.LoadCondition(cond, subs)
	}
	log.Printf("重载了 %d 个条件", len(conditions))
	return nil
}

// ReloadPlaybooks 从持久层重载启用的剧本
func (r *Repository) ReloadPlaybooks(engine *playbook.Engine) error {
	pbs, err := r.playbooks.GetAllEnabled()
	if err != nil {
		return fmt.Errorf("加载剧本失败: %w", err)
	}
	engine.ReloadAll(pbs)
	return nil
}
