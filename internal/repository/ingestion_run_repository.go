package repository

import (
	"sync"

	"legal-rag-go/internal/model"

	"gorm.io/gorm"
)

// IngestionRunRepository 定义了导入台账的操作接口。
type IngestionRunRepository interface {
	Create(run *model.IngestionRun) error
	Update(run *model.IngestionRun) error
	ListRecent(limit int) ([]model.IngestionRun, error)
}

type ingestionRunRepository struct {
	db *gorm.DB
}

// NewIngestionRunRepository 创建一个基于 gorm 的导入台账。
func NewIngestionRunRepository(db *gorm.DB) IngestionRunRepository {
	return &ingestionRunRepository{db: db}
}

func (r *ingestionRunRepository) Create(run *model.IngestionRun) error {
	return r.db.Create(run).Error
}

func (r *ingestionRunRepository) Update(run *model.IngestionRun) error {
	return r.db.Save(run).Error
}

// ListRecent 按开始时间倒序返回最近的导入记录。
func (r *ingestionRunRepository) ListRecent(limit int) ([]model.IngestionRun, error) {
	var runs []model.IngestionRun
	err := r.db.Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

type memoryIngestionRunRepository struct {
	mu     sync.Mutex
	nextID uint
	runs   []model.IngestionRun
}

// NewMemoryIngestionRunRepository 在未配置 MySQL 时使用，记录只保存在进程内。
func NewMemoryIngestionRunRepository() IngestionRunRepository {
	return &memoryIngestionRunRepository{}
}

func (r *memoryIngestionRunRepository) Create(run *model.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	run.ID = r.nextID
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memoryIngestionRunRepository) Update(run *model.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].ID == run.ID {
			r.runs[i] = *run
			return nil
		}
	}
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memoryIngestionRunRepository) ListRecent(limit int) ([]model.IngestionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.IngestionRun, 0, len(r.runs))
	for i := len(r.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, r.runs[i])
	}
	return out, nil
}
