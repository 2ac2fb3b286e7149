// Package main 是问答服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legal-rag-go/internal/bootstrap"
	"legal-rag-go/internal/config"
	"legal-rag-go/internal/handler"
	"legal-rag-go/internal/middleware"
	"legal-rag-go/internal/service"
	"legal-rag-go/internal/ui"
	"legal-rag-go/pkg/kafka"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/telemetry"
	"legal-rag-go/pkg/token"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry)
	if err != nil {
		log.Fatal("初始化链路追踪失败", err)
	}
	defer shutdownTracer()

	// 3. 初始化存储与外部依赖，任何配置错误都直接终止进程
	bootstrap.Stores(cfg, false)
	embedder, index, err := bootstrap.Retrieval(cfg)
	if err != nil {
		log.Fatal("初始化检索组件失败", err)
	}
	conversationRepo := bootstrap.ConversationRepository(cfg)
	chainService, err := bootstrap.ChainService(cfg, embedder, index, conversationRepo)
	if err != nil {
		log.Fatal("初始化问答链失败", err)
	}
	ingestService, err := bootstrap.IngestService(cfg, embedder, index)
	if err != nil {
		log.Fatal("初始化导入服务失败", err)
	}

	// 4. 按需在启动时导入数据集，失败则不提供服务
	if cfg.Ingest.OnStartup {
		report, err := ingestService.Ingest(context.Background(), service.IngestRequest{})
		if err != nil {
			log.Fatal("启动时导入数据集失败", err)
		}
		log.Infof("启动时导入完成, dataset: %s, records: %d, 耗时: %s", report.Dataset, report.Records, report.Duration)
	}

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", handler.SessionHeader, middleware.RequestIDHeader)
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	r.Use(
		middleware.RequestIDMiddleware(),
		middleware.RequestLogger(),
		gin.Recovery(),
		otelgin.Middleware(cfg.Telemetry.ServiceName),
		cors.New(corsConfig),
	)

	// 6. 注册路由
	expose := cfg.Server.ExposeErrorDetail
	queryHandler := handler.NewQueryHandler(chainService, cfg.Server.MaxQueryLength, cfg.Retrieval.ReturnSourceDocuments, expose)
	r.GET("/", queryHandler.Root)
	r.GET("/healthz", queryHandler.Healthz)
	r.POST("/query/", queryHandler.Query)
	r.GET("/query/ws", handler.NewStreamHandler(chainService, cfg.Server.MaxQueryLength, expose, cfg.Server.CORSOrigins).Handle)

	conversationHandler := handler.NewConversationHandler(conversationRepo, expose)
	r.GET("/conversations/:session_id", conversationHandler.GetConversation)
	r.DELETE("/conversations/:session_id", conversationHandler.DeleteConversation)

	if cfg.JWT.Secret != "" {
		kafka.InitProducer(cfg.Kafka)
		defer func() {
			if err := kafka.CloseProducer(); err != nil {
				log.Errorf("关闭 Kafka 生产者失败: %v", err)
			}
		}()
		jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
		adminHandler := handler.NewAdminHandler(ingestService, kafka.ProduceIngestionTask, expose)
		admin := r.Group("/admin", middleware.AdminAuthMiddleware(jwtManager))
		{
			admin.POST("/ingest", adminHandler.TriggerIngest)
			admin.GET("/ingest/runs", adminHandler.ListIngestRuns)
		}
	} else {
		log.Warnf("未配置 jwt.secret，管理接口 /admin 未启用")
	}

	if cfg.UI.Enabled {
		ui.NewHandler(ui.NewQueryClient(cfg.UI.APIURL, cfg.UI.Timeout), cfg.UI, cfg.Memory.TTL).Register(r)
	}

	// 7. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
