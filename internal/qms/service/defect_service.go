package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-qms/internal/qms/entity"
	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/bitfantasy/nimo-qms/internal/qms/repository"
	"gorm.io/gorm"
)

// DefectService 案件查询服务（只读）
type DefectService struct {
	db       *gorm.DB
	repos    *repository.Repositories
	policies *policy.Store
}

// NewDefectService 创建案件查询服务
func NewDefectService(db *gorm.DB, repos *repository.Repositories, policies *policy.Store) *DefectService {
	return &DefectService{db: db, repos: repos, policies: policies}
}

// CaseDetail 案件详情（含处理记录与逾期标记）
type CaseDetail struct {
	entity.DefectCase
	Overdue     bool                `json:"overdue"`
	ProcessLogs []entity.ProcessLog `json:"process_logs"`
}

// Get 按ID查询案件详情，处理记录按时间倒序
func (s *DefectService) Get(ctx context.Context, id string) (*CaseDetail, error) {
	c, err := s.repos.Defect.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.repos.ProcessLog.FindByCase(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CaseDetail{
		DefectCase:  *c,
		Overdue:     !entity.IsTerminalStage(c.Stage) && policy.IsOverdue(time.Now(), c.Deadline),
		ProcessLogs: logs,
	}, nil
}

// CaseListItem 列表项（附逾期标记）
type CaseListItem struct {
	entity.DefectCase
	Overdue bool `json:"overdue"`
}

// List 分页查询案件列表
func (s *DefectService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]CaseListItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	cases, total, err := s.repos.Defect.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	items := make([]CaseListItem, 0, len(cases))
	for _, c := range cases {
		items = append(items, CaseListItem{
			DefectCase: c,
			Overdue:    !entity.IsTerminalStage(c.Stage) && policy.IsOverdue(now, c.Deadline),
		})
	}
	return items, total, nil
}

// ListOverdue 查询当前逾期的未结案案件
func (s *DefectService) ListOverdue(ctx context.Context) ([]CaseListItem, error) {
	cases, err := s.repos.Defect.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var items []CaseListItem
	for _, c := range cases {
		if policy.IsOverdue(now, c.Deadline) {
			items = append(items, CaseListItem{DefectCase: c, Overdue: true})
		}
	}
	return items, nil
}

// WorkOrderStats 工单不良统计
func (s *DefectService) WorkOrderStats(ctx context.Context, workOrder string) (*repository.WorkOrderStats, error) {
	return s.repos.Defect.GetWorkOrderStats(ctx, workOrder)
}

// NextPackageSeq 预览工单的下一个包号（max+1，新工单为1）
// 仅供界面展示，真正的发号在创建事务内完成
func (s *DefectService) NextPackageSeq(ctx context.Context, workOrder string) (int, error) {
	maxSeq, err := s.repos.Defect.MaxPackageSeq(s.db.WithContext(ctx), workOrder)
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}
