package handler

import (
	"math"

	"github.com/bitfantasy/nimo-qms/internal/qms/service"
	"github.com/gin-gonic/gin"
)

// DefectHandler 不良品案件处理器
type DefectHandler struct {
	workflow *service.WorkflowService
	defects  *service.DefectService
}

// NewDefectHandler 创建不良品案件处理器
func NewDefectHandler(workflow *service.WorkflowService, defects *service.DefectService) *DefectHandler {
	return &DefectHandler{workflow: workflow, defects: defects}
}

// Create 登录不良品案件
// POST /defects
func (h *DefectHandler) Create(c *gin.Context) {
	var req service.CreateCaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求数据有误: "+err.Error())
		return
	}

	dc, err := h.workflow.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Created(c, dc)
}

// List 案件列表
// GET /defects?status=&responsible_dept=&severity=&work_order=&stage=&page=&page_size=
func (h *DefectHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":           c.Query("status"),
		"responsible_dept": c.Query("responsible_dept"),
		"severity":         c.Query("severity"),
		"work_order":       c.Query("work_order"),
		"stage":            c.Query("stage"),
	}

	items, total, err := h.defects.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "查询案件列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items": items,
		"pagination": Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
		},
	})
}

// Get 案件详情（含处理记录，按时间倒序）
// GET /defects/:id
func (h *DefectHandler) Get(c *gin.Context) {
	detail, err := h.defects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, detail)
}

// Delete 删除案件（级联删除处理记录）
// DELETE /defects/:id
func (h *DefectHandler) Delete(c *gin.Context) {
	if err := h.workflow.Delete(c.Request.Context(), c.Param("id")); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

// SubmitResolution 主责单位提交处理结果
// POST /defects/:id/submit
func (h *DefectHandler) SubmitResolution(c *gin.Context) {
	var req service.SubmitResolutionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求数据有误: "+err.Error())
		return
	}

	dc, err := h.workflow.SubmitResolution(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, dc)
}

type approveReq struct {
	Note string `json:"note"`
}

type rejectReq struct {
	Reason string `json:"reason" binding:"required"`
}

// ApproveSecondary 次责签核通过
// POST /defects/:id/approve
func (h *DefectHandler) ApproveSecondary(c *gin.Context) {
	var req approveReq
	_ = c.ShouldBindJSON(&req) // note选填，body可为空

	dc, err := h.workflow.ApproveSecondary(c.Request.Context(), c.Param("id"), req.Note, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, dc)
}

// RejectSecondary 次责签核退回
// POST /defects/:id/reject
func (h *DefectHandler) RejectSecondary(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "退回原因不能为空")
		return
	}

	dc, err := h.workflow.RejectSecondary(c.Request.Context(), c.Param("id"), req.Reason, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, dc)
}

// ApproveThirdParty 第三责任人签核通过
// POST /defects/:id/third-approve
func (h *DefectHandler) ApproveThirdParty(c *gin.Context) {
	var req approveReq
	_ = c.ShouldBindJSON(&req)

	dc, err := h.workflow.ApproveThirdParty(c.Request.Context(), c.Param("id"), req.Note, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, dc)
}

// RejectThirdParty 第三责任人退回
// POST /defects/:id/third-reject
func (h *DefectHandler) RejectThirdParty(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "退回原因不能为空")
		return
	}

	dc, err := h.workflow.RejectThirdParty(c.Request.Context(), c.Param("id"), req.Reason, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, dc)
}

// Transfer 转派责任部门
// POST /defects/:id/transfer
func (h *DefectHandler) Transfer(c *gin.Context) {
	var req service.TransferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求数据有误: "+err.Error())
		return
	}

	dc, err := h.workflow.Transfer(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, dc)
}

// ListOverdue 当前逾期的未结案案件
// GET /defects/overdue
func (h *DefectHandler) ListOverdue(c *gin.Context) {
	items, err := h.defects.ListOverdue(c.Request.Context())
	if err != nil {
		InternalError(c, "查询逾期案件失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items, "count": len(items)})
}

// WorkOrderStats 工单不良统计
// GET /work-orders/:workOrder/stats
func (h *DefectHandler) WorkOrderStats(c *gin.Context) {
	stats, err := h.defects.WorkOrderStats(c.Request.Context(), c.Param("workOrder"))
	if err != nil {
		InternalError(c, "查询工单统计失败: "+err.Error())
		return
	}
	Success(c, stats)
}

// NextPackageSeq 工单下一个包号预览
// GET /work-orders/:workOrder/next-seq
func (h *DefectHandler) NextPackageSeq(c *gin.Context) {
	seq, err := h.defects.NextPackageSeq(c.Request.Context(), c.Param("workOrder"))
	if err != nil {
		InternalError(c, "查询包号失败: "+err.Error())
		return
	}
	Success(c, gin.H{"work_order": c.Param("workOrder"), "next_seq": seq})
}
