package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-qms/internal/qms/entity"
	"gorm.io/gorm"
)

// DefectRepository 不良品案件仓库
type DefectRepository struct {
	db *gorm.DB
}

func NewDefectRepository(db *gorm.DB) *DefectRepository {
	return &DefectRepository{db: db}
}

// FindByID 按ID查询案件
func (r *DefectRepository) FindByID(ctx context.Context, id string) (*entity.DefectCase, error) {
	var c entity.DefectCase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindAll 分页查询案件列表
// filters 支持 status/responsible_dept/severity/work_order/stage
func (r *DefectRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.DefectCase, int64, error) {
	var items []entity.DefectCase
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.DefectCase{})
	for _, key := range []string{"status", "responsible_dept", "severity", "work_order", "stage"} {
		if v, ok := filters[key]; ok && v != "" {
			query = query.Where(key+" = ?", v)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// ListActive 查询所有未结案案件（open/in_progress）
// 逾期扫描用，只读
func (r *DefectRepository) ListActive(ctx context.Context) ([]entity.DefectCase, error) {
	var items []entity.DefectCase
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{entity.StatusOpen, entity.StatusInProgress}).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// MaxPackageSeq 查询工单当前最大包号，无记录返回0
// 必须在创建事务内、持有该工单的串行锁时调用，避免并发发号重复
func (r *DefectRepository) MaxPackageSeq(tx *gorm.DB, workOrder string) (int, error) {
	var maxSeq int
	err := tx.Model(&entity.DefectCase{}).
		Where("work_order = ?", workOrder).
		Select("COALESCE(MAX(package_seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}

// WorkOrderStats 工单统计
type WorkOrderStats struct {
	WorkOrder    string  `json:"work_order"`
	TotalDefects int     `json:"total_defects"`
	TotalQty     int     `json:"total_qty"`
	RecordCount  int     `json:"record_count"`
	DefectRate   float64 `json:"defect_rate"` // 百分比
}

// GetWorkOrderStats 汇总工单的不良数量与不良率
func (r *DefectRepository) GetWorkOrderStats(ctx context.Context, workOrder string) (*WorkOrderStats, error) {
	var row struct {
		TotalDefects int
		TotalQty     int
		RecordCount  int
	}
	err := r.db.WithContext(ctx).Model(&entity.DefectCase{}).
		Where("work_order = ?", workOrder).
		Select("COALESCE(SUM(quantity),0) AS total_defects, COALESCE(MAX(work_order_total),0) AS total_qty, COUNT(*) AS record_count").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &WorkOrderStats{
		WorkOrder:    workOrder,
		TotalDefects: row.TotalDefects,
		TotalQty:     row.TotalQty,
		RecordCount:  row.RecordCount,
	}
	if row.TotalQty > 0 {
		stats.DefectRate = float64(row.TotalDefects) / float64(row.TotalQty) * 100
	}
	return stats, nil
}
