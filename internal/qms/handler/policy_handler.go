package handler

import (
	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/gin-gonic/gin"
)

// PolicyHandler 策略查询处理器
// 只读：策略变更通过配置文件热更新，不提供写接口
type PolicyHandler struct {
	policies *policy.Store
}

// NewPolicyHandler 创建策略查询处理器
func NewPolicyHandler(policies *policy.Store) *PolicyHandler {
	return &PolicyHandler{policies: policies}
}

// Get 当前生效的SLA与路由策略
// GET /policy
func (h *PolicyHandler) Get(c *gin.Context) {
	Success(c, h.policies.Snapshot().View())
}
