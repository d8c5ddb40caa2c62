package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-qms/internal/qms/entity"
	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/bitfantasy/nimo-qms/internal/qms/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor 执行流转操作的人（来自JWT claims）
type Actor struct {
	Name       string
	Department string
}

// keyedMutex 按key串行化的互斥锁集合
// 同一案件/同一工单的写操作串行，不同key互不阻塞；key数量有限（活跃案件），不做回收
type keyedMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// WorkflowService 流转引擎
// 所有状态变更走这里：校验前置阶段，同一事务内更新案件并追加处理记录
type WorkflowService struct {
	db       *gorm.DB
	repos    *repository.Repositories
	policies *policy.Store
	logger   *zap.Logger

	caseLocks      keyedMutex // 按案件ID串行
	workOrderLocks keyedMutex // 按工单号串行（发包号用）
}

// NewWorkflowService 创建流转引擎
func NewWorkflowService(db *gorm.DB, repos *repository.Repositories, policies *policy.Store, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{db: db, repos: repos, policies: policies, logger: logger}
}

// CreateCaseReq 创建不良品案件请求
type CreateCaseReq struct {
	WorkOrder      string `json:"work_order" binding:"required"`
	ProductName    string `json:"product_name" binding:"required"`
	WorkOrderTotal int    `json:"work_order_total"`
	Category       string `json:"category" binding:"required"`
	Severity       string `json:"severity" binding:"required"`
	Quantity       int    `json:"quantity" binding:"required"`
	Component      string `json:"component"`
	Supplier       string `json:"supplier"`
	Description    string `json:"description"`
}

// Create 创建案件：按不良类型确定主/次责任部门，按当时SLA固化截止时间，
// 在工单锁内发包号（max+1），并在同一事务内写入首条处理记录
func (s *WorkflowService) Create(ctx context.Context, req CreateCaseReq, actor Actor) (*entity.DefectCase, error) {
	if req.Quantity < 1 {
		return nil, NewValidationError("quantity", "不良数量必须大于等于1")
	}
	if !entity.ValidSeverity(req.Severity) {
		return nil, NewValidationError("severity", "严重等级必须为 A/B/C")
	}

	snap := s.policies.Snapshot()
	route, err := snap.RouteCategory(req.Category)
	if err != nil {
		return nil, NewValidationError("category", err.Error())
	}

	now := time.Now()
	deadline, err := snap.Deadline(now, req.Severity)
	if err != nil {
		return nil, NewValidationError("severity", err.Error())
	}

	c := &entity.DefectCase{
		ID:              uuid.New().String(),
		WorkOrder:       req.WorkOrder,
		ProductName:     req.ProductName,
		WorkOrderTotal:  req.WorkOrderTotal,
		Category:        req.Category,
		Severity:        req.Severity,
		Quantity:        req.Quantity,
		Component:       req.Component,
		Supplier:        req.Supplier,
		Description:     req.Description,
		ResponsibleDept: route.PrimaryDept,
		AssignedPerson:  snap.DefaultPerson(route.PrimaryDept),
		PrimaryDept:     route.PrimaryDept,
		PrimaryPerson:   snap.DefaultPerson(route.PrimaryDept),
		SecondaryDept:   route.SecondaryDept,
		SecondaryPerson: snap.DefaultPerson(route.SecondaryDept),
		Stage:           entity.StagePendingPrimary,
		Status:          entity.StageStatus(entity.StagePendingPrimary),
		CreatedAt:       now,
		UpdatedAt:       now,
		Deadline:        deadline,
		LoggedBy:        actor.Name,
	}

	// 同一工单的发包号必须串行，否则并发创建会拿到重复的 max+1
	unlock := s.workOrderLocks.lock(req.WorkOrder)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		maxSeq, err := s.repos.Defect.MaxPackageSeq(tx, req.WorkOrder)
		if err != nil {
			return fmt.Errorf("查询工单最大包号失败: %w", err)
		}
		c.PackageSeq = maxSeq + 1

		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("创建案件失败: %w", err)
		}
		return s.appendLog(tx, c.ID, entity.ActionCaseCreated, actor,
			fmt.Sprintf("登录不良品：%s 包%d，%s级 x%d", c.WorkOrder, c.PackageSeq, c.Severity, c.Quantity))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Defect case created",
		zap.String("case_id", c.ID),
		zap.String("work_order", c.WorkOrder),
		zap.Int("package_seq", c.PackageSeq),
		zap.String("severity", c.Severity),
		zap.String("primary_dept", c.PrimaryDept),
	)
	return c, nil
}

// SubmitResolutionReq 主责单位提交处理结果请求
type SubmitResolutionReq struct {
	Resolution           string `json:"resolution" binding:"required"` // 处置码（枚举）
	Note                 string `json:"note"`
	PassQty              int    `json:"pass_qty"`              // 判定OK的数量（数量拆分时）
	RemainingQty         int    `json:"remaining_qty"`         // 剩余NG数量
	RemainingDisposition string `json:"remaining_disposition"` // 剩余NG的处置码
}

// SubmitResolution 主责单位提交处理结果，流转到次责签核
// 仅允许 pending_primary / primary_in_progress 阶段；带数量拆分时校验
// pass_qty + remaining_qty == quantity，且剩余NG>0时必须带处置码
func (s *WorkflowService) SubmitResolution(ctx context.Context, caseID string, req SubmitResolutionReq, actor Actor) (*entity.DefectCase, error) {
	if req.Resolution == "" {
		return nil, NewValidationError("resolution", "处置码不能为空")
	}
	snap := s.policies.Snapshot()
	if !snap.ValidResolution(req.Resolution) {
		return nil, NewValidationError("resolution", fmt.Sprintf("未知的处置码[%s]", req.Resolution))
	}

	return s.transition(ctx, caseID, func(tx *gorm.DB, c *entity.DefectCase) error {
		if c.Stage != entity.StagePendingPrimary && c.Stage != entity.StagePrimaryInProgress {
			return &InvalidTransitionError{Stage: c.Stage, Action: "submit_resolution"}
		}

		// 数量拆分校验：仅在填了拆分字段时生效
		if req.PassQty != 0 || req.RemainingQty != 0 {
			if req.PassQty < 0 || req.RemainingQty < 0 {
				return NewValidationError("pass_qty", "拆分数量不能为负")
			}
			if req.PassQty+req.RemainingQty != c.Quantity {
				return NewValidationError("pass_qty",
					fmt.Sprintf("OK数量%d + 剩余NG数量%d 必须等于不良数量%d", req.PassQty, req.RemainingQty, c.Quantity))
			}
			if req.RemainingQty > 0 && req.RemainingDisposition == "" {
				return NewValidationError("remaining_disposition", "剩余NG数量大于0时必须填写处置码")
			}
		}

		c.Resolution = req.Resolution
		c.PassQty = req.PassQty
		c.RemainingQty = req.RemainingQty
		c.RemainingDisposition = req.RemainingDisposition
		c.Stage = entity.StagePendingSecondary
		c.ResponsibleDept = c.SecondaryDept
		c.AssignedPerson = c.SecondaryPerson

		comment := fmt.Sprintf("提交处理结果：%s", req.Resolution)
		if req.Note != "" {
			comment += "；" + req.Note
		}
		return s.appendLog(tx, c.ID, entity.ActionSubmitResolution, actor, comment)
	})
}

// ApproveSecondary 次责签核通过
// 处置码命中第三责任路由则流转到第三方签核，否则直接结案
func (s *WorkflowService) ApproveSecondary(ctx context.Context, caseID, note string, actor Actor) (*entity.DefectCase, error) {
	return s.transition(ctx, caseID, func(tx *gorm.DB, c *entity.DefectCase) error {
		if c.Stage != entity.StagePendingSecondary {
			return &InvalidTransitionError{Stage: c.Stage, Action: "approve_secondary"}
		}

		snap := s.policies.Snapshot()
		if rule, ok := snap.MatchThirdParty(c.Resolution); ok {
			c.Stage = entity.StagePendingThird
			c.ThirdDept = rule.Dept
			c.ThirdPerson = rule.Person
			c.ThirdStage = entity.ThirdStageAwaiting
			c.ResponsibleDept = rule.Dept
			c.AssignedPerson = rule.Person
			return s.appendLog(tx, c.ID, entity.ActionSecondaryApproved, actor,
				appendNote(fmt.Sprintf("次责签核通过，转%s签核", rule.Dept), note))
		}

		now := time.Now()
		c.Stage = entity.StageApproved
		c.CompletedAt = &now
		return s.appendLog(tx, c.ID, entity.ActionSecondaryApproved, actor,
			appendNote("次责签核通过，结案", note))
	})
}

// RejectSecondary 次责签核退回，案件回到主责再处理
// 退回原因必填；处理结果保留不清空，便于追溯
func (s *WorkflowService) RejectSecondary(ctx context.Context, caseID, reason string, actor Actor) (*entity.DefectCase, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "退回原因不能为空")
	}
	return s.transition(ctx, caseID, func(tx *gorm.DB, c *entity.DefectCase) error {
		if c.Stage != entity.StagePendingSecondary {
			return &InvalidTransitionError{Stage: c.Stage, Action: "reject_secondary"}
		}
		c.Stage = entity.StagePrimaryInProgress
		c.ResponsibleDept = c.PrimaryDept
		c.AssignedPerson = c.PrimaryPerson
		return s.appendLog(tx, c.ID, entity.ActionSecondaryRejected, actor, "退回："+reason)
	})
}

// ApproveThirdParty 第三责任人签核通过，终态结案
func (s *WorkflowService) ApproveThirdParty(ctx context.Context, caseID, note string, actor Actor) (*entity.DefectCase, error) {
	return s.transition(ctx, caseID, func(tx *gorm.DB, c *entity.DefectCase) error {
		if c.Stage != entity.StagePendingThird {
			return &InvalidTransitionError{Stage: c.Stage, Action: "third_approve"}
		}
		now := time.Now()
		c.Stage = entity.StageApproved
		c.ThirdStage = entity.ThirdStageApproved
		c.CompletedAt = &now
		return s.appendLog(tx, c.ID, entity.ActionThirdApproved, actor,
			appendNote("第三责任人签核通过，结案", note))
	})
}

// RejectThirdParty 第三责任人退回，案件回到主责再处理
// 第三责任人字段保留作为历史，仅子状态置为 returned
func (s *WorkflowService) RejectThirdParty(ctx context.Context, caseID, reason string, actor Actor) (*entity.DefectCase, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "退回原因不能为空")
	}
	return s.transition(ctx, caseID, func(tx *gorm.DB, c *entity.DefectCase) error {
		if c.Stage != entity.StagePendingThird {
			return &InvalidTransitionError{Stage: c.Stage, Action: "third_reject"}
		}
		c.Stage = entity.StagePrimaryInProgress
		c.ThirdStage = entity.ThirdStageReturned
		c.ResponsibleDept = c.PrimaryDept
		c.AssignedPerson = c.PrimaryPerson
		return s.appendLog(tx, c.ID, entity.ActionThirdRejected, actor, "第三责任人退回："+reason)
	})
}

// TransferReq 转派请求
type TransferReq struct {
	TargetDept string `json:"target_dept" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

// Transfer 手工转派责任部门（非终态均可，不改签核阶段）
// 负责人按 目标=次责部门取次责人 / 目标=主责部门取主责人 / 否则取该部门默认人员 解析
func (s *WorkflowService) Transfer(ctx context.Context, caseID string, req TransferReq, actor Actor) (*entity.DefectCase, error) {
	if req.TargetDept == "" {
		return nil, NewValidationError("target_dept", "目标部门不能为空")
	}
	if req.Reason == "" {
		return nil, NewValidationError("reason", "转派原因不能为空")
	}
	return s.transition(ctx, caseID, func(tx *gorm.DB, c *entity.DefectCase) error {
		if entity.IsTerminalStage(c.Stage) {
			return &InvalidTransitionError{Stage: c.Stage, Action: "transfer"}
		}

		var person string
		switch req.TargetDept {
		case c.SecondaryDept:
			person = c.SecondaryPerson
		case c.PrimaryDept:
			person = c.PrimaryPerson
		default:
			person = s.policies.Snapshot().DefaultPerson(req.TargetDept)
		}

		c.ResponsibleDept = req.TargetDept
		c.AssignedPerson = person
		return s.appendLog(tx, c.ID, entity.ActionTransferred, actor,
			fmt.Sprintf("转派至%s：%s", req.TargetDept, req.Reason))
	})
}

// Delete 删除案件，级联删除其全部处理记录，不可恢复
func (s *WorkflowService) Delete(ctx context.Context, caseID string) error {
	unlock := s.caseLocks.lock(caseID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c entity.DefectCase
		if err := tx.Where("id = ?", caseID).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
		if err := tx.Where("case_id = ?", caseID).Delete(&entity.ProcessLog{}).Error; err != nil {
			return fmt.Errorf("删除处理记录失败: %w", err)
		}
		if err := tx.Delete(&entity.DefectCase{}, "id = ?", caseID).Error; err != nil {
			return fmt.Errorf("删除案件失败: %w", err)
		}
		s.logger.Info("Defect case deleted", zap.String("case_id", caseID))
		return nil
	})
}

// transition 通用流转骨架：按案件ID加锁，事务内读取-校验-变更-记录，
// 任一步失败整体回滚（状态和处理记录要么都落、要么都不落）
func (s *WorkflowService) transition(ctx context.Context, caseID string, apply func(tx *gorm.DB, c *entity.DefectCase) error) (*entity.DefectCase, error) {
	unlock := s.caseLocks.lock(caseID)
	defer unlock()

	var result *entity.DefectCase
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c entity.DefectCase
		if err := tx.Where("id = ?", caseID).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			return err
		}

		if err := apply(tx, &c); err != nil {
			return err
		}

		// 状态始终由阶段推导，杜绝 (status, stage) 组合失配
		c.Status = entity.StageStatus(c.Stage)
		c.UpdatedAt = time.Now()

		if err := tx.Save(&c).Error; err != nil {
			return fmt.Errorf("保存案件失败: %w", err)
		}
		result = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// appendLog 在事务内追加一条处理记录
func (s *WorkflowService) appendLog(tx *gorm.DB, caseID, action string, actor Actor, comment string) error {
	log := &entity.ProcessLog{
		ID:         uuid.New().String(),
		CaseID:     caseID,
		Action:     action,
		Department: actor.Department,
		Operator:   actor.Name,
		Comment:    comment,
		CreatedAt:  time.Now(),
	}
	if err := tx.Create(log).Error; err != nil {
		return fmt.Errorf("写入处理记录失败: %w", err)
	}
	return nil
}

func appendNote(base, note string) string {
	if note == "" {
		return base
	}
	return base + "；" + note
}
