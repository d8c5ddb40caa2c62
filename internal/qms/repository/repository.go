package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	Defect     *DefectRepository
	ProcessLog *ProcessLogRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Defect:     NewDefectRepository(db),
		ProcessLog: NewProcessLogRepository(db),
	}
}
