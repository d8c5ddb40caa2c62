package entity

import "time"

// ProcessLog 处理记录（审计日志）
// 只追加不修改；读取按时间倒序；随案件级联删除，不支持单独删除
type ProcessLog struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	CaseID     string    `json:"case_id" gorm:"size:36;not null;index:idx_process_log_case"`
	Action     string    `json:"action" gorm:"size:100;not null"` // case_created/submit_resolution/secondary_approved等
	Department string    `json:"department" gorm:"size:50;not null"`
	Operator   string    `json:"operator" gorm:"size:100;not null"`
	Comment    string    `json:"comment" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ProcessLog) TableName() string {
	return "qms_process_logs"
}

// 审计动作
const (
	ActionCaseCreated       = "case_created"
	ActionSubmitResolution  = "submit_resolution"
	ActionSecondaryApproved = "secondary_approved"
	ActionSecondaryRejected = "secondary_rejected"
	ActionThirdApproved     = "third_approved"
	ActionThirdRejected     = "third_rejected"
	ActionTransferred       = "transferred"
)
