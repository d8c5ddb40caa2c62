package service

import (
	"time"

	"github.com/bitfantasy/nimo-qms/internal/config"
	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/bitfantasy/nimo-qms/internal/qms/repository"
	"github.com/bitfantasy/nimo-qms/internal/shared/notify"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Workflow   *WorkflowService
	Defect     *DefectService
	Escalation *EscalationService
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, policies *policy.Store,
	rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *Services {

	var channels []notify.Channel
	if cfg.Notify.FeishuWebhook != "" {
		channels = append(channels, notify.NewFeishuChannel(cfg.Notify.FeishuWebhook, 10*time.Second))
	}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.WebhookURL, 10*time.Second))
	}

	interval := time.Duration(cfg.Scanner.IntervalMinutes) * time.Minute

	return &Services{
		Workflow:   NewWorkflowService(db, repos, policies, logger),
		Defect:     NewDefectService(db, repos, policies),
		Escalation: NewEscalationService(repos, policies, channels, rdb, interval, logger),
	}
}
