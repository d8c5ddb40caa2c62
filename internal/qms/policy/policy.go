package policy

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bitfantasy/nimo-qms/internal/qms/entity"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// 部门
const (
	DeptEngineering = "EngineeringDept"
	DeptQuality     = "QualityDept"
	DeptManagement  = "ManagementDept"
	DeptMaterials   = "MaterialsDept"
	DeptMfg1        = "Manufacturing1Dept"
	DeptMfg2        = "Manufacturing2Dept"
	DeptMfg3        = "Manufacturing3Dept"
)

// 不良类型（枚举）
const (
	CategoryGaugeNG       = "GaugeNG"
	CategorySurfaceDefect = "SurfaceDefect"
	CategoryAssembly      = "AssemblyDefect"
	CategoryFunctional    = "FunctionalFailure"
	CategoryCosmetic      = "CosmeticDefect"
	CategoryOther         = "Other"
)

// 处置码（枚举）
// 路由规则对处置码做全函数映射，不再对自由文本做子串匹配
const (
	ResolutionJudgedOK          = "JudgedOK"          // TRA11 判定后为OK品（可带数量拆分）
	ResolutionScrap             = "Scrap"             // TRA14 报废
	ResolutionReturnMfg2        = "ReturnMfg2"        // TWP12 退制二
	ResolutionReturnMfg3        = "ReturnMfg3"        // TWP12 退制三
	ResolutionOutsource         = "OutsourceTransfer" // TWP12 转嫁外包
	ResolutionSupplierTransfer  = "SupplierTransfer"  // TWP12 转嫁供应商
	ResolutionSupplierReplenish = "SupplierReplenish" // TRA13B 退供应商补料
	ResolutionInlineRework      = "InlineRework"      // TRA13A 上线重工
)

// SLAEntry 单个严重等级的SLA参数
type SLAEntry struct {
	LimitHours    int `mapstructure:"limit_hours"`    // 处理时限
	ReminderHours int `mapstructure:"reminder_hours"` // 逾期提醒间隔
}

// Route 不良类型对应的主/次责任部门
type Route struct {
	PrimaryDept   string
	SecondaryDept string
}

// ThirdPartyRule 处置码 → 第三责任人路由规则
// 规则按配置顺序匹配，第一条命中的生效
type ThirdPartyRule struct {
	Resolution string `mapstructure:"resolution"`
	Dept       string `mapstructure:"dept"`
	Person     string `mapstructure:"person"`
}

// Snapshot 不可变的策略快照
// 每次请求/扫描周期取一份快照使用，配置热更新只影响之后取的快照
type Snapshot struct {
	sla        map[string]SLAEntry
	categories []string            // 已知不良类型
	cosmetic   map[string]struct{} // 外观类子集：主责品保、次责工程（其余类型相反）
	thirdRules []ThirdPartyRule
	personnel  map[string][]string // 部门 → 负责人列表，第一个为默认
}

// Limit 严重等级的处理时限
func (s *Snapshot) Limit(severity string) (time.Duration, error) {
	e, ok := s.sla[severity]
	if !ok {
		return 0, fmt.Errorf("未配置严重等级[%s]的SLA", severity)
	}
	return time.Duration(e.LimitHours) * time.Hour, nil
}

// Reminder 严重等级的逾期提醒间隔
func (s *Snapshot) Reminder(severity string) time.Duration {
	if e, ok := s.sla[severity]; ok {
		return time.Duration(e.ReminderHours) * time.Hour
	}
	return 4 * time.Hour
}

// Deadline 按创建时刻的SLA计算处理截止时间
func (s *Snapshot) Deadline(createdAt time.Time, severity string) (time.Time, error) {
	limit, err := s.Limit(severity)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.Add(limit), nil
}

// IsOverdue 判断是否逾期
// 始终以案件创建时固化的 deadline 为准，不回查当前策略，
// 避免"存的截止时间"和"算出来的截止时间"出现两套事实
func IsOverdue(now, deadline time.Time) bool {
	return now.After(deadline)
}

// RouteCategory 根据不良类型确定主/次责任部门
// 外观类（CosmeticDefect/SurfaceDefect 等配置子集）主责品保，其余主责工程
func (s *Snapshot) RouteCategory(category string) (Route, error) {
	known := false
	for _, c := range s.categories {
		if c == category {
			known = true
			break
		}
	}
	if !known {
		return Route{}, fmt.Errorf("未知的不良类型[%s]", category)
	}
	if _, ok := s.cosmetic[category]; ok {
		return Route{PrimaryDept: DeptQuality, SecondaryDept: DeptEngineering}, nil
	}
	return Route{PrimaryDept: DeptEngineering, SecondaryDept: DeptQuality}, nil
}

// ValidResolution 处置码是否在枚举集合内
func (s *Snapshot) ValidResolution(code string) bool {
	switch code {
	case ResolutionJudgedOK, ResolutionScrap, ResolutionReturnMfg2, ResolutionReturnMfg3,
		ResolutionOutsource, ResolutionSupplierTransfer, ResolutionSupplierReplenish, ResolutionInlineRework:
		return true
	}
	// 配置里出现过的码也接受，允许现场扩展
	for _, r := range s.thirdRules {
		if r.Resolution == code {
			return true
		}
	}
	return false
}

// MatchThirdParty 处置码命中的第三责任人路由
// 按配置顺序第一条命中生效；无命中返回 false
func (s *Snapshot) MatchThirdParty(resolution string) (ThirdPartyRule, bool) {
	for _, r := range s.thirdRules {
		if r.Resolution == resolution {
			return r, true
		}
	}
	return ThirdPartyRule{}, false
}

// DefaultPerson 部门的默认负责人（配置列表的第一个），未配置返回空串
func (s *Snapshot) DefaultPerson(dept string) string {
	if persons, ok := s.personnel[dept]; ok && len(persons) > 0 {
		return persons[0]
	}
	return ""
}

// Params 构造快照的参数，零值字段取内置默认
// 测试用它注入确定性策略，运行时走 LoadFromViper
type Params struct {
	SLA                map[string]SLAEntry
	Categories         []string
	CosmeticCategories []string
	ThirdPartyRules    []ThirdPartyRule
	Personnel          map[string][]string
}

// NewSnapshot 按参数构造不可变快照
func NewSnapshot(p Params) *Snapshot {
	snap := defaultSnapshot()
	if p.SLA != nil {
		snap.sla = p.SLA
	}
	if p.Categories != nil {
		snap.categories = p.Categories
	}
	if p.CosmeticCategories != nil {
		cosmetic := map[string]struct{}{}
		for _, c := range p.CosmeticCategories {
			cosmetic[c] = struct{}{}
		}
		snap.cosmetic = cosmetic
	}
	if p.ThirdPartyRules != nil {
		snap.thirdRules = p.ThirdPartyRules
	}
	if p.Personnel != nil {
		snap.personnel = p.Personnel
	}
	return snap
}

// View 快照的只读视图（接口层展示用）
type View struct {
	SLA                map[string]SLAEntry `json:"sla"`
	Categories         []string            `json:"categories"`
	CosmeticCategories []string            `json:"cosmetic_categories"`
	ThirdPartyRules    []ThirdPartyRule    `json:"third_party_rules"`
	Personnel          map[string][]string `json:"personnel"`
}

// View 导出快照内容
func (s *Snapshot) View() View {
	cosmetic := make([]string, 0, len(s.cosmetic))
	for _, c := range s.categories {
		if _, ok := s.cosmetic[c]; ok {
			cosmetic = append(cosmetic, c)
		}
	}
	return View{
		SLA:                s.sla,
		Categories:         s.categories,
		CosmeticCategories: cosmetic,
		ThirdPartyRules:    s.thirdRules,
		Personnel:          s.personnel,
	}
}

// Store 策略存储，持有当前快照
// 进程启动时从配置装载，配置文件变更时热替换快照
type Store struct {
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

// NewStore 创建策略存储
func NewStore(logger *zap.Logger) *Store {
	s := &Store{logger: logger}
	s.current.Store(defaultSnapshot())
	return s
}

// Snapshot 取当前策略快照
func (st *Store) Snapshot() *Snapshot {
	return st.current.Load()
}

// Replace 替换当前快照（测试和热更新用）
func (st *Store) Replace(s *Snapshot) {
	st.current.Store(s)
}

// LoadFromViper 从viper配置构建快照并替换
// 配置缺失的部分落回默认值
func (st *Store) LoadFromViper(v *viper.Viper) error {
	snap := defaultSnapshot()

	if v.IsSet("policy.sla") {
		sla := map[string]SLAEntry{}
		if err := v.UnmarshalKey("policy.sla", &sla); err != nil {
			return fmt.Errorf("解析SLA配置失败: %w", err)
		}
		for sev, e := range sla {
			if e.LimitHours <= 0 {
				return fmt.Errorf("严重等级[%s]的处理时限必须为正", sev)
			}
			snap.sla[sev] = e
		}
	}

	if v.IsSet("policy.third_party_rules") {
		var rules []ThirdPartyRule
		if err := v.UnmarshalKey("policy.third_party_rules", &rules); err != nil {
			return fmt.Errorf("解析第三责任人路由规则失败: %w", err)
		}
		snap.thirdRules = rules
	}

	if v.IsSet("policy.cosmetic_categories") {
		cosmetic := map[string]struct{}{}
		for _, c := range v.GetStringSlice("policy.cosmetic_categories") {
			cosmetic[c] = struct{}{}
		}
		snap.cosmetic = cosmetic
	}

	if v.IsSet("policy.personnel") {
		personnel := map[string][]string{}
		if err := v.UnmarshalKey("policy.personnel", &personnel); err != nil {
			return fmt.Errorf("解析人员配置失败: %w", err)
		}
		snap.personnel = personnel
	}

	st.current.Store(snap)
	if st.logger != nil {
		st.logger.Info("Policy snapshot loaded",
			zap.Int("sla_entries", len(snap.sla)),
			zap.Int("third_party_rules", len(snap.thirdRules)),
		)
	}
	return nil
}

// Watch 监听配置文件变更，变更时热替换快照
func (st *Store) Watch(v *viper.Viper) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := st.LoadFromViper(v); err != nil && st.logger != nil {
			st.logger.Error("Policy hot reload failed", zap.Error(err))
		}
	})
	v.WatchConfig()
}

// defaultSnapshot 内置默认策略：A级4h/提醒2h，B级8h/4h，C级24h/8h；
// 第三责任人路由沿用产线现行对应表
func defaultSnapshot() *Snapshot {
	return &Snapshot{
		sla: map[string]SLAEntry{
			entity.SeverityHigh:   {LimitHours: 4, ReminderHours: 2},
			entity.SeverityMedium: {LimitHours: 8, ReminderHours: 4},
			entity.SeverityLow:    {LimitHours: 24, ReminderHours: 8},
		},
		categories: []string{
			CategoryGaugeNG, CategorySurfaceDefect, CategoryAssembly,
			CategoryFunctional, CategoryCosmetic, CategoryOther,
		},
		cosmetic: map[string]struct{}{
			CategoryCosmetic:      {},
			CategorySurfaceDefect: {},
		},
		thirdRules: []ThirdPartyRule{
			{Resolution: ResolutionScrap, Dept: DeptManagement, Person: "PlantManager"},
			{Resolution: ResolutionReturnMfg2, Dept: DeptMfg2, Person: "Mfg2DRI"},
			{Resolution: ResolutionReturnMfg3, Dept: DeptMfg3, Person: "Mfg3DRI"},
			{Resolution: ResolutionOutsource, Dept: DeptMaterials, Person: "MaterialsDRI"},
			{Resolution: ResolutionSupplierTransfer, Dept: DeptMaterials, Person: "MaterialsDRI"},
			{Resolution: ResolutionSupplierReplenish, Dept: DeptMaterials, Person: "MaterialsDRI"},
			{Resolution: ResolutionInlineRework, Dept: DeptMfg1, Person: "Mfg1DRI"},
		},
		personnel: map[string][]string{},
	}
}
