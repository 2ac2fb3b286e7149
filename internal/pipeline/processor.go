// Package pipeline 把队列中的导入任务交给导入服务执行。
package pipeline

import (
	"context"
	"fmt"

	"legal-rag-go/internal/service"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/tasks"
)

// Processor 实现 kafka.TaskProcessor。
type Processor struct {
	ingestService service.IngestService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(ingestService service.IngestService) *Processor {
	return &Processor{ingestService: ingestService}
}

// Process 执行一次导入任务。
func (p *Processor) Process(ctx context.Context, task tasks.IngestionTask) error {
	log.Infof("[Processor] 开始处理导入任务, TaskID: %s, Dataset: %s, Split: %s, RequestedBy: %s",
		task.TaskID, task.Dataset, task.Split, task.RequestedBy)

	report, err := p.ingestService.Ingest(ctx, service.IngestRequest{
		Dataset: task.Dataset,
		Split:   task.Split,
		Limit:   task.Limit,
	})
	if err != nil {
		return fmt.Errorf("导入任务 %s 失败: %w", task.TaskID, err)
	}

	log.Infof("[Processor] 导入任务完成, TaskID: %s, run: %d, records: %d", task.TaskID, report.RunID, report.Records)
	return nil
}
