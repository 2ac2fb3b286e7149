// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestionTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 关闭生产者并刷新缓冲的消息。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// ProduceIngestionTask 发送一个导入任务到 Kafka。
func ProduceIngestionTask(ctx context.Context, task tasks.IngestionTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Dataset),
		Value: taskBytes,
	})
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string)
}

type redisAttempts struct{ rdb *redis.Client }

// NewRedisAttemptCounter 使用 Redis 计数，多个消费者实例共享计数。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttempts{rdb: rdb}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (r *redisAttempts) Incr(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

func (r *redisAttempts) Reset(ctx context.Context, taskID string) {
	_ = r.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

type memoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryAttemptCounter 在进程内计数，仅适用于单个消费者。
func NewMemoryAttemptCounter() AttemptCounter {
	return &memoryAttempts{counts: make(map[string]int64)}
}

func (m *memoryAttempts) Incr(_ context.Context, taskID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[taskID]++
	return m.counts[taskID], nil
}

func (m *memoryAttempts) Reset(_ context.Context, taskID string) {
	m.mu.Lock()
	delete(m.counts, taskID)
	m.mu.Unlock()
}

// messageReader 是消费循环用到的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理导入任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	return consume(ctx, r, processor, attempts)
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor, attempts AttemptCounter) error {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.IngestionTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}
		if task.TaskID == "" {
			task.TaskID = fmt.Sprintf("%d-%d", m.Partition, m.Offset)
		}

		log.Infof("开始处理导入任务: TaskID=%s, Dataset=%s", task.TaskID, task.Dataset)
		if !processWithRetry(ctx, processor, attempts, task) {
			// ctx 已取消，不提交 offset，下次启动时重新投递
			return nil
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// retryBackoff 是两次重试之间的等待时间。
var retryBackoff = 2 * time.Second

// processWithRetry 处理任务直到成功或失败次数达到上限，返回 false 表示 ctx 已取消。
func processWithRetry(ctx context.Context, processor TaskProcessor, attempts AttemptCounter, task tasks.IngestionTask) bool {
	var local int64
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("导入任务处理成功: TaskID=%s", task.TaskID)
			attempts.Reset(ctx, task.TaskID)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("处理导入任务失败: TaskID=%s, Error: %v", task.TaskID, err)

		local++
		n, incErr := attempts.Incr(ctx, task.TaskID)
		if incErr != nil {
			log.Errorf("记录失败次数出错，使用本地计数: %v", incErr)
			n = local
		}
		if n >= maxAttempts {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
			attempts.Reset(ctx, task.TaskID)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryBackoff * time.Duration(n)):
		}
	}
}
