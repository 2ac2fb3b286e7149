// Package main 是数据集导入工具的入口点，与问答服务分开部署。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"legal-rag-go/internal/bootstrap"
	"legal-rag-go/internal/config"
	"legal-rag-go/internal/pipeline"
	"legal-rag-go/internal/service"
	"legal-rag-go/pkg/database"
	"legal-rag-go/pkg/kafka"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "ingest the configured dataset once and exit")
	consume := flag.Bool("consume", false, "consume ingestion tasks from Kafka until interrupted")
	datasetName := flag.String("dataset", "", "dataset name, overrides dataset.name (with -once)")
	split := flag.String("split", "", "dataset split, overrides dataset.split (with -once)")
	limit := flag.Int("limit", 0, "maximum number of records, 0 means all (with -once)")
	printToken := flag.String("print-admin-token", "", "print an admin JWT for the given subject and exit")
	flag.Parse()

	config.Init(*configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	if *printToken != "" {
		jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
		t, err := jwtManager.GenerateToken(*printToken, token.RoleAdmin)
		if err != nil {
			log.Fatal("签发管理员 token 失败", err)
		}
		fmt.Println(t)
		return
	}
	if *once == *consume {
		fmt.Fprintln(os.Stderr, "exactly one of -once or -consume is required")
		flag.Usage()
		os.Exit(2)
	}

	bootstrap.Stores(cfg, *consume)
	embedder, index, err := bootstrap.Retrieval(cfg)
	if err != nil {
		log.Fatal("初始化检索组件失败", err)
	}
	ingestService, err := bootstrap.IngestService(cfg, embedder, index)
	if err != nil {
		log.Fatal("初始化导入服务失败", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := ingestService.Ingest(ctx, service.IngestRequest{Dataset: *datasetName, Split: *split, Limit: *limit})
		if err != nil {
			log.Fatal("导入失败", err)
		}
		log.Infof("导入成功, run: %d, dataset: %s, split: %s, records: %d, 耗时: %s",
			report.RunID, report.Dataset, report.Split, report.Records, report.Duration)
		return
	}

	processor := pipeline.NewProcessor(ingestService)
	if err := kafka.StartConsumer(ctx, cfg.Kafka, processor, kafka.NewRedisAttemptCounter(database.RDB)); err != nil {
		log.Fatal("Kafka 消费者异常退出", err)
	}
	log.Info("导入消费者已停止")
}
