// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	client, err := NewClient(cfg)
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	MinioClient = client
	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// NewClient 创建一个 MinIO 客户端，不做任何网络请求。
func NewClient(cfg config.MinIOConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
}

// OpenObject 打开一个对象用于流式读取，调用方负责关闭。
func OpenObject(ctx context.Context, client *minio.Client, bucketName, objectName string) (io.ReadCloser, error) {
	obj, err := client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象失败: %w", err)
	}
	// GetObject 是惰性的，Stat 才会真正确认对象存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("读取 MinIO 对象 %s/%s 失败: %w", bucketName, objectName, err)
	}
	return obj, nil
}
