package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// Server API服务器
type Server struct {
	router *gin.Engine
	srv    *http.Server
}

// NewServer 创建新的API服务器
func NewServer(port string) *Server {
	router := gin.Default()

	router.Use(gin.Recovery())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	return &Server{
		router: router,
		srv:    srv,
	}
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(handlers *Handlers) {
	// 健康检查
	s.router.GET("/health", handlers.HealthCheck)
	s.router.GET("/ready", handlers.ReadinessCheck)

	// API v1 路由组
	v1 := s.router.Group("/api/v1")
	{
		// 条件注册与订阅
		v1.POST("/conditions", handlers.RegisterCondition)
		v1.POST("/conditions/:fingerprint/subscribe", handlers.Subscribe)
		v1.POST("/conditions/:fingerprint/unsubscribe", handlers.Unsubscribe)
		v1.GET("/conditions/:fingerprint/status", handlers.GetStatus)
		v1.GET("/stats", handlers.GetStats)

		// 剧本管理
		v1.POST("/playbooks", handlers.CreatePlaybook)
		v1.GET("/playbooks/:id", handlers.GetPlaybook)
		v1.DELETE("/playbooks/:id", handlers.DeletePlaybook)
		v1.PUT("/playbooks/:id/entries/:entry_id", handlers.UpdatePlaybookEntry)

		// 触发历史
		v1.GET("/triggers/history", handlers.GetTriggerHistory)
	}
}

// Start 启动服务器并等待中断信号
func (s *Server) Start() {
	go func() {
		log.Printf("API服务器启动在 %s\n", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器关闭失败: %v\n", err)
	}

	log.Println("服务器已关闭")
}
