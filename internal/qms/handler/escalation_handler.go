package handler

import (
	"time"

	"github.com/bitfantasy/nimo-qms/internal/qms/service"
	"github.com/gin-gonic/gin"
)

// EscalationHandler 逾期升级处理器
type EscalationHandler struct {
	svc *service.EscalationService
}

// NewEscalationHandler 创建逾期升级处理器
func NewEscalationHandler(svc *service.EscalationService) *EscalationHandler {
	return &EscalationHandler{svc: svc}
}

// TriggerScan 手动触发一轮逾期扫描（巡检/联调用，不等下个周期）
// POST /escalations/scan
func (h *EscalationHandler) TriggerScan(c *gin.Context) {
	result, err := h.svc.Scan(c.Request.Context(), time.Now())
	if err != nil {
		InternalError(c, "逾期扫描失败: "+err.Error())
		return
	}
	Success(c, result)
}
