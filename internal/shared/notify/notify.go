package notify

import (
	"context"
	"time"
)

// =============================================================================
// 通知通道 — 逾期升级消息的外发契约
// 引擎只关心 send(部门, 消息) 成败，不关心传输方式；
// 可同时启用多个通道，单通道失败不影响其他通道
// =============================================================================

// OverdueCase 逾期案件摘要（消息正文的一行）
type OverdueCase struct {
	WorkOrder    string
	PackageSeq   int
	ProductName  string
	Severity     string
	Quantity     int
	CreatedAt    time.Time
	HoursOverdue float64
}

// OverdueAlert 一个部门的逾期提醒（每部门每通道一条聚合消息）
type OverdueAlert struct {
	Department string
	Count      int
	Cases      []OverdueCase
}

// Channel 通知通道
type Channel interface {
	// Name 通道名，用于日志定位
	Name() string
	// SendOverdueAlert 发送一条部门聚合逾期提醒
	// 实现必须自带秒级超时，失败返回错误由调用方记录，不重试
	SendOverdueAlert(ctx context.Context, alert OverdueAlert) error
}
