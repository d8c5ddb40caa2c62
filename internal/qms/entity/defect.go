package entity

import "time"

// DefectCase 不良品处理单
// 一张工单可以拆成多个"包"（PackageSeq 每工单内递增，从1开始，删除不回收编号）
type DefectCase struct {
	ID string `json:"id" gorm:"primaryKey;size:36"`

	// 工单分组
	WorkOrder      string `json:"work_order" gorm:"size:64;not null;index:idx_defect_work_order"`
	PackageSeq     int    `json:"package_seq" gorm:"not null"`
	ProductName    string `json:"product_name" gorm:"size:200;not null"`
	WorkOrderTotal int    `json:"work_order_total" gorm:"default:0"` // 工单总生产数，用于不良率统计

	// 分类
	Category    string `json:"category" gorm:"size:50;not null"` // 不良类型（枚举）
	Severity    string `json:"severity" gorm:"size:10;not null"` // A/B/C 级
	Quantity    int    `json:"quantity" gorm:"not null"`         // 不良数量，>= 1
	Component   string `json:"component" gorm:"size:200"`        // 零件（选填）
	Supplier    string `json:"supplier" gorm:"size:200"`         // 供应商（选填）
	Description string `json:"description" gorm:"type:text"`

	// 责任链
	ResponsibleDept string `json:"responsible_dept" gorm:"size:50;not null;index"` // 当前责任部门
	AssignedPerson  string `json:"assigned_person" gorm:"size:100"`                // 当前负责人
	PrimaryDept     string `json:"primary_dept" gorm:"size:50;not null"`
	PrimaryPerson   string `json:"primary_person" gorm:"size:100"`
	SecondaryDept   string `json:"secondary_dept" gorm:"size:50;not null"`
	SecondaryPerson string `json:"secondary_person" gorm:"size:100"`
	ThirdDept       string `json:"third_dept" gorm:"size:50"` // 第三责任部门，仅当处理结果命中路由规则时填写
	ThirdPerson     string `json:"third_person" gorm:"size:100"`
	ThirdStage      string `json:"third_stage" gorm:"size:20"` // awaiting/approved/returned

	// 流程状态：Stage 是唯一事实来源，Status 由 Stage 推导后冗余存储用于查询
	Stage  string `json:"stage" gorm:"size:30;not null;index"`
	Status string `json:"status" gorm:"size:20;not null;index"`

	// 处理结果
	Resolution           string `json:"resolution" gorm:"type:text"`          // 处置码 + 备注
	PassQty              int    `json:"pass_qty" gorm:"default:0"`            // TQA11 判定OK的数量
	RemainingQty         int    `json:"remaining_qty" gorm:"default:0"`       // 剩余NG数量
	RemainingDisposition string `json:"remaining_disposition" gorm:"size:50"` // 剩余NG的处置码

	// 时间
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Deadline    time.Time  `json:"deadline"`     // 创建时按当时SLA一次性固化，策略变更不回溯
	CompletedAt *time.Time `json:"completed_at"` // 仅结案时写入

	LoggedBy string `json:"logged_by" gorm:"size:100"` // 登录人员

	ProcessLogs []ProcessLog `json:"process_logs,omitempty" gorm:"foreignKey:CaseID"`
}

func (DefectCase) TableName() string {
	return "qms_defect_cases"
}

// 案件状态（由签核阶段推导）
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

// 签核阶段
const (
	StagePendingPrimary    = "pending_primary"     // 新建或被退回，等主要单位处理
	StagePrimaryInProgress = "primary_in_progress" // 退回后的再处理（动作语义同 pending_primary）
	StagePendingSecondary  = "pending_secondary"   // 主要单位已提交，等次要单位签核
	StagePendingThird      = "pending_third"       // 次要单位通过且处置码命中第三责任路由
	StageApproved          = "approved"            // 终态，全部签核完成
)

// 第三责任人签核子状态
const (
	ThirdStageAwaiting = "awaiting"
	ThirdStageApproved = "approved"
	ThirdStageReturned = "returned"
)

// StageStatus 由签核阶段推导案件状态
// 每个阶段恰好对应一个合法状态，避免 (status, stage) 组合失配
func StageStatus(stage string) string {
	switch stage {
	case StagePendingPrimary:
		return StatusOpen
	case StagePrimaryInProgress, StagePendingSecondary, StagePendingThird:
		return StatusInProgress
	case StageApproved:
		return StatusClosed
	default:
		return StatusOpen
	}
}

// IsTerminalStage 是否终态
func IsTerminalStage(stage string) bool {
	return stage == StageApproved
}

// 严重等级
const (
	SeverityHigh   = "A"
	SeverityMedium = "B"
	SeverityLow    = "C"
)

// ValidSeverity 校验严重等级取值
func ValidSeverity(s string) bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}
