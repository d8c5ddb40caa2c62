package repository

import (
	"context"

	"github.com/bitfantasy/nimo-qms/internal/qms/entity"
	"gorm.io/gorm"
)

// ProcessLogRepository 处理记录仓库
// 处理记录只追加（由工作流事务写入），读取按时间倒序
type ProcessLogRepository struct {
	db *gorm.DB
}

func NewProcessLogRepository(db *gorm.DB) *ProcessLogRepository {
	return &ProcessLogRepository{db: db}
}

// FindByCase 查询案件的处理记录，时间倒序
func (r *ProcessLogRepository) FindByCase(ctx context.Context, caseID string) ([]entity.ProcessLog, error) {
	var logs []entity.ProcessLog
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// CountByCase 案件处理记录条数
func (r *ProcessLogRepository) CountByCase(ctx context.Context, caseID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.ProcessLog{}).
		Where("case_id = ?", caseID).
		Count(&count).Error
	return count, err
}
