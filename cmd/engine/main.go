package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/collector"
	"TriggerRadar/pkg/config"
	"TriggerRadar/pkg/database"
	"TriggerRadar/pkg/evaluator"
	"TriggerRadar/pkg/messaging"
	"TriggerRadar/pkg/monitor"
	"TriggerRadar/pkg/notifier"
	"TriggerRadar/pkg/playbook"
	"TriggerRadar/pkg/registry"
	"TriggerRadar/pkg/repository"
	"TriggerRadar/pkg/scheduler"
)

func main() {
	log.Println("启动条件评估引擎...")

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

	// 组件健康监控
	mon := monitor.NewMonitor(func(component, status, message string) {
		log.Printf("组件 %s 状态变为 %s: %s", component, status, message)
	})
	mon.RegisterComponent("market_data")

	// 注册中心与事件总线
	reg := registry.NewRegistry(db.Condition())
	eventBus := bus.NewBus(cfg.Evaluator.BusBuffer)
	defer eventBus.Close()

	// 剧本引擎
	engine := playbook.NewEngine(reg, eventBus)

	// 启动预热：条件、订阅、剧本灌进内存
	repo := repository.NewRepository(db)
	if err := repo.WarmLoad(reg, engine); err != nil {
		log.Fatalf("启动预热失败: %v\n", err)
	}

	// 通知分发器
	notif := notifier.NewNotifier(reg, engine, db.Trigger())
	notif.RegisterHandler("alert", notifier.LogHandler{})
	notif.RegisterHandler("bot", notifier.LogHandler{})
	notif.Start(eventBus)

	// NATS外部桥接（可选）
	if cfg.NATS.URL != "" {
		natsClient, err := messaging.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("连接NATS失败: %v\n", err)
		}
		defer natsClient.Close()
		natsClient.Bridge(eventBus)
	}

	// 行情数据源
	source := collector.NewBinanceSource(
		cfg.Binance.BaseURL,
		cfg.Binance.RatePerSec,
		cfg.Binance.CandleLimit,
	)

	// 评估器
	eval := evaluator.NewEvaluator(reg, source, eventBus, engine, mon, evaluator.Options{
		Interval:          cfg.Evaluator.TickInterval,
		FetchTimeout:      cfg.Evaluator.FetchTimeout,
		Workers:           cfg.Evaluator.Workers,
		DegradedThreshold: cfg.Evaluator.DegradedThreshold,
	})

	// 后台任务：剧本重载、空置条件回收
	sched := scheduler.NewScheduler(reg, engine, repo,
		cfg.Retention.TTL, cfg.Retention.SweepCron, cfg.Retention.ReloadCron)
	if err := sched.Start(); err != nil {
		log.Fatalf("启动调度器失败: %v\n", err)
	}
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go eval.Run(ctx)

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("正在关闭评估引擎...")
	cancel()
}
