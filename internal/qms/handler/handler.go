package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/bitfantasy/nimo-qms/internal/qms/repository"
	"github.com/bitfantasy/nimo-qms/internal/qms/service"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Defect     *DefectHandler
	Policy     *PolicyHandler
	Escalation *EscalationHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, policies *policy.Store) *Handlers {
	return &Handlers{
		Defect:     NewDefectHandler(svc.Workflow, svc.Defect),
		Policy:     NewPolicyHandler(policies),
		Escalation: NewEscalationHandler(svc.Escalation),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 状态冲突响应（阶段不允许该操作）
func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// HandleServiceError 按错误类型映射响应码
func HandleServiceError(c *gin.Context, err error) {
	var ve *service.ValidationError
	var te *service.InvalidTransitionError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, "案件不存在")
	case errors.As(err, &ve):
		BadRequest(c, ve.Error())
	case errors.As(err, &te):
		Conflict(c, te.Error())
	default:
		InternalError(c, err.Error())
	}
}

// GetActor 从JWT上下文提取操作人
func GetActor(c *gin.Context) service.Actor {
	return service.Actor{
		Name:       c.GetString("user_name"),
		Department: c.GetString("user_dept"),
	}
}

// 单页上限，分页边界只在这里收口
const maxPageSize = 100

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			if v > maxPageSize {
				v = maxPageSize
			}
			pageSize = v
		}
	}

	return page, pageSize
}
