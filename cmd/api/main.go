package main

import (
	"log"
	"os"

	"TriggerRadar/pkg/api"
	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/config"
	"TriggerRadar/pkg/database"
	"TriggerRadar/pkg/monitor"
	"TriggerRadar/pkg/playbook"
	"TriggerRadar/pkg/registry"
	"TriggerRadar/pkg/repository"
)

func main() {
	log.Println("启动注册API服务...")

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}

	// 连接数据库
	db, err := database.NewPostgres(cfg)
	if err != nil {
		log.Fatalf("连接数据库失败: %v\n", err)
	}
	defer db.Close()

	// 注册中心预热
	// 评估在engine进程进行，本进程的剧本引擎只服务增删改查，
	// engine进程通过定时重载感知变更
	reg := registry.NewRegistry(db.Condition())
	eventBus := bus.NewBus(0)
	defer eventBus.Close()
	engine := playbook.NewEngine(reg, eventBus)

	repo := repository.NewRepository(db)
	if err := repo.WarmLoad(reg, engine); err != nil {
		log.Fatalf("启动预热失败: %v\n", err)
	}

	mon := monitor.NewMonitor(nil)

	// 启动HTTP服务
	server := api.NewServer(cfg.API.Port)
	handlers := api.NewHandlers(reg, engine, db.Trigger(), db.Playbook(), mon)
	server.SetupRoutes(handlers)
	server.Start()
}
