package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/bitfantasy/nimo-qms/internal/qms/repository"
	"github.com/bitfantasy/nimo-qms/internal/shared/notify"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EscalationService 逾期升级扫描器
// 独立于请求处理的后台任务：周期性扫描未结案案件，按创建时固化的截止时间
// 判断逾期，按当前责任部门聚合后通过通知通道外发。只读，从不改案件状态。
type EscalationService struct {
	repos    *repository.Repositories
	policies *policy.Store
	channels []notify.Channel
	rdb      *redis.Client // 可为nil，降级为进程内去重
	logger   *zap.Logger

	interval    time.Duration
	sendTimeout time.Duration
	now         func() time.Time // 测试注入时钟

	mu       sync.Mutex
	lastSent map[string]time.Time // rdb为nil时的进程内去重表
	stop     chan struct{}
	done     chan struct{}
}

// NewEscalationService 创建逾期扫描器
// interval 为扫描周期；rdb 可传nil（单实例部署时用进程内去重）
func NewEscalationService(repos *repository.Repositories, policies *policy.Store,
	channels []notify.Channel, rdb *redis.Client, interval time.Duration, logger *zap.Logger) *EscalationService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &EscalationService{
		repos:       repos,
		policies:    policies,
		channels:    channels,
		rdb:         rdb,
		logger:      logger,
		interval:    interval,
		sendTimeout: 15 * time.Second,
		now:         time.Now,
		lastSent:    map[string]time.Time{},
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start 启动后台扫描goroutine
func (s *EscalationService) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Escalation scanner started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				if _, err := s.Scan(ctx, s.now()); err != nil {
					s.logger.Error("Escalation scan failed", zap.Error(err))
				}
				cancel()
			case <-s.stop:
				s.logger.Info("Escalation scanner stopped")
				return
			}
		}
	}()
}

// Stop 停止扫描器并等待当前轮次结束
func (s *EscalationService) Stop() {
	close(s.stop)
	<-s.done
}

// ScanResult 单轮扫描结果
type ScanResult struct {
	ScannedAt    time.Time             `json:"scanned_at"`
	ActiveCases  int                   `json:"active_cases"`
	OverdueCases int                   `json:"overdue_cases"`
	Alerts       []notify.OverdueAlert `json:"alerts"` // 实际外发的部门聚合消息
}

// Scan 执行一轮逾期扫描
// 查询全部未结案案件，逾期判断以案件存储的 deadline 为准（不回查当前策略），
// 按责任部门聚合，经去重后逐部门、逐通道外发；单部门/单通道失败不影响其他
func (s *EscalationService) Scan(ctx context.Context, now time.Time) (*ScanResult, error) {
	cases, err := s.repos.Defect.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询未结案案件失败: %w", err)
	}

	snap := s.policies.Snapshot()
	byDept := map[string][]notify.OverdueCase{}
	pending := map[string][]reminderMark{} // 发送成功后才落去重标记
	overdue := 0
	for _, c := range cases {
		if !policy.IsOverdue(now, c.Deadline) {
			continue
		}
		overdue++
		if s.recentlyReminded(ctx, c.ID, snap.Reminder(c.Severity), now) {
			continue
		}
		pending[c.ResponsibleDept] = append(pending[c.ResponsibleDept],
			reminderMark{caseID: c.ID, interval: snap.Reminder(c.Severity)})
		byDept[c.ResponsibleDept] = append(byDept[c.ResponsibleDept], notify.OverdueCase{
			WorkOrder:    c.WorkOrder,
			PackageSeq:   c.PackageSeq,
			ProductName:  c.ProductName,
			Severity:     c.Severity,
			Quantity:     c.Quantity,
			CreatedAt:    c.CreatedAt,
			HoursOverdue: now.Sub(c.Deadline).Hours(),
		})
	}

	result := &ScanResult{
		ScannedAt:    now,
		ActiveCases:  len(cases),
		OverdueCases: overdue,
	}

	// 部门顺序固定，消息顺序可复现
	depts := make([]string, 0, len(byDept))
	for d := range byDept {
		depts = append(depts, d)
	}
	sort.Strings(depts)

	for _, dept := range depts {
		alert := notify.OverdueAlert{
			Department: dept,
			Count:      len(byDept[dept]),
			Cases:      byDept[dept],
		}
		result.Alerts = append(result.Alerts, alert)
		// 至少一个通道送达才记去重标记；整轮发送失败则下轮重新提醒
		if s.dispatch(ctx, alert) {
			for _, m := range pending[dept] {
				s.markReminded(ctx, m.caseID, m.interval, now)
			}
		}
	}

	if overdue > 0 {
		s.logger.Warn("Overdue defect cases found",
			zap.Int("active", len(cases)),
			zap.Int("overdue", overdue),
			zap.Int("alerted_depts", len(result.Alerts)),
		)
	}
	return result, nil
}

// reminderMark 待落盘的去重标记，等对应部门消息送达后再写
type reminderMark struct {
	caseID   string
	interval time.Duration
}

// dispatch 把一条部门聚合消息发往全部通道，逐通道隔离失败
// 返回是否至少有一个通道送达
func (s *EscalationService) dispatch(ctx context.Context, alert notify.OverdueAlert) bool {
	delivered := false
	for _, ch := range s.channels {
		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		if err := ch.SendOverdueAlert(sendCtx, alert); err != nil {
			s.logger.Error("Overdue alert dispatch failed",
				zap.String("channel", ch.Name()),
				zap.String("department", alert.Department),
				zap.Error(err),
			)
		} else {
			delivered = true
		}
		cancel()
	}
	return delivered
}

// recentlyReminded 去重检查：同一案件在一个提醒间隔内最多提醒一次
// 有redis时查共享键（多实例），否则查进程内时间表；只查不写
func (s *EscalationService) recentlyReminded(ctx context.Context, caseID string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}

	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, "qms:escalation:sent:"+caseID).Result()
		if err != nil {
			// redis不可用时宁可多发不可漏发
			s.logger.Warn("Escalation dedup via redis failed", zap.Error(err))
			return false
		}
		return n > 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSent[caseID]
	return ok && now.Sub(last) < interval
}

// markReminded 落去重标记，仅在该案件所属部门的消息实际送达后调用
func (s *EscalationService) markReminded(ctx context.Context, caseID string, interval time.Duration, now time.Time) {
	if interval <= 0 {
		return
	}

	if s.rdb != nil {
		key := "qms:escalation:sent:" + caseID
		if err := s.rdb.SetNX(ctx, key, now.Unix(), interval).Err(); err != nil {
			s.logger.Warn("Escalation dedup mark via redis failed", zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent[caseID] = now
}

// SetClock 测试注入时钟
func (s *EscalationService) SetClock(now func() time.Time) {
	s.now = now
}
