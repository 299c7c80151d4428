package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"TriggerRadar/pkg/playbook"
	"TriggerRadar/pkg/registry"
	"TriggerRadar/pkg/repository"
)

// Scheduler 后台任务调度器：剧本重载、空置条件回收
type Scheduler struct {
	cron     *cron.Cron
	registry *registry.Registry
	engine   *playbook.Engine
	repo     *repository.Repository

	retentionTTL time.Duration
	sweepCron    string
	reloadCron   string
}

// NewScheduler 创建任务调度器，repo可为nil（纯内存模式不做重载）
func NewScheduler(reg *registry.Registry, engine *playbook.Engine, repo *repository.Repository,
	retentionTTL time.Duration, sweepCron, reloadCron string) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		registry:     reg,
		engine:       engine,
		repo:         repo,
		retentionTTL: retentionTTL,
		sweepCron:    sweepCron,
		reloadCron:   reloadCron,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	// 定期回收空置超过TTL的条件
	if _, err := s.cron.AddFunc(s.sweepCron, s.sweepConditions); err != nil {
		return err
	}

	// 定期从持久层重载条件与剧本，API进程的变更由此进入评估
	if s.repo != nil {
		if _, err := s.cron.AddFunc(s.reloadCron, s.reloadConditions); err != nil {
			return err
		}
		if s.engine != nil {
			if _, err := s.cron.AddFunc(s.reloadCron, s.reloadPlaybooks); err != nil {
				return err
			}
		}
	}

	s.cron.Start()
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) sweepConditions() {
	removed := s.registry.SweepExpired(s.retentionTTL, time.Now())
	if len(removed) > 0 {
		log.Printf("回收扫描完成，移除 %d 个空置条件", len(removed))
	}
}

func (s *Scheduler) reloadConditions() {
	if err := s.repo.ReloadConditions(s.registry); err != nil {
		log.Printf("重载条件失败: %v", err)
	}
}

func (s *Scheduler) reloadPlaybooks() {
	if err := s.repo.ReloadPlaybooks(s.engine); err != nil {
		log.Printf("重载剧本失败: %v", err)
	}
}
