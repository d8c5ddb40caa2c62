package policy

import (
	"testing"
	"time"

	"github.com/bitfantasy/nimo-qms/internal/qms/entity"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestRouteCategory(t *testing.T) {
	snap := NewStore(zap.NewNop()).Snapshot()

	// 非外观类：主责工程，次责品保
	route, err := snap.RouteCategory(CategoryFunctional)
	if err != nil {
		t.Fatalf("RouteCategory: %v", err)
	}
	if route.PrimaryDept != DeptEngineering || route.SecondaryDept != DeptQuality {
		t.Errorf("Expected (EngineeringDept, QualityDept), got (%s, %s)", route.PrimaryDept, route.SecondaryDept)
	}

	// 外观类：顺序反转
	for _, cat := range []string{CategoryCosmetic, CategorySurfaceDefect} {
		route, err = snap.RouteCategory(cat)
		if err != nil {
			t.Fatalf("RouteCategory(%s): %v", cat, err)
		}
		if route.PrimaryDept != DeptQuality || route.SecondaryDept != DeptEngineering {
			t.Errorf("%s: expected (QualityDept, EngineeringDept), got (%s, %s)", cat, route.PrimaryDept, route.SecondaryDept)
		}
	}

	// 未知类型报错
	if _, err := snap.RouteCategory("Bogus"); err == nil {
		t.Error("Expected error for unknown category")
	}
}

func TestMatchThirdPartyFirstRuleWins(t *testing.T) {
	snap := NewSnapshot(Params{
		ThirdPartyRules: []ThirdPartyRule{
			{Resolution: ResolutionScrap, Dept: DeptManagement, Person: "First"},
			{Resolution: ResolutionScrap, Dept: DeptMaterials, Person: "Second"},
		},
	})

	rule, ok := snap.MatchThirdParty(ResolutionScrap)
	if !ok {
		t.Fatal("Expected a match for Scrap")
	}
	if rule.Person != "First" {
		t.Errorf("Expected first configured rule to win, got person %s", rule.Person)
	}

	if _, ok := snap.MatchThirdParty(ResolutionJudgedOK); ok {
		t.Error("JudgedOK should not match any third party rule")
	}
}

func TestDeadlineFixedBySeverity(t *testing.T) {
	snap := NewStore(zap.NewNop()).Snapshot()
	createdAt := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		severity string
		hours    time.Duration
	}{
		{entity.SeverityHigh, 4 * time.Hour},
		{entity.SeverityMedium, 8 * time.Hour},
		{entity.SeverityLow, 24 * time.Hour},
	}
	for _, tc := range cases {
		deadline, err := snap.Deadline(createdAt, tc.severity)
		if err != nil {
			t.Fatalf("Deadline(%s): %v", tc.severity, err)
		}
		if got := deadline.Sub(createdAt); got != tc.hours {
			t.Errorf("%s级: expected limit %v, got %v", tc.severity, tc.hours, got)
		}
	}

	if _, err := snap.Deadline(createdAt, "X"); err == nil {
		t.Error("Expected error for unknown severity")
	}
}

func TestIsOverdueMonotonic(t *testing.T) {
	deadline := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if IsOverdue(deadline.Add(-time.Minute), deadline) {
		t.Error("Not overdue before deadline")
	}
	if IsOverdue(deadline, deadline) {
		t.Error("Not overdue exactly at deadline")
	}

	// 一旦逾期，此后任意时刻都逾期
	first := deadline.Add(time.Second)
	if !IsOverdue(first, deadline) {
		t.Fatal("Expected overdue just past deadline")
	}
	for _, later := range []time.Duration{time.Minute, time.Hour, 240 * time.Hour} {
		if !IsOverdue(deadline.Add(later), deadline) {
			t.Errorf("Overdue must stay true at deadline+%v", later)
		}
	}
}

func TestStoreReplaceAffectsLaterSnapshotsOnly(t *testing.T) {
	store := NewStore(zap.NewNop())
	before := store.Snapshot()

	store.Replace(NewSnapshot(Params{
		SLA: map[string]SLAEntry{
			entity.SeverityHigh: {LimitHours: 1, ReminderHours: 1},
		},
	}))

	// 旧快照不受影响
	limit, err := before.Limit(entity.SeverityHigh)
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}
	if limit != 4*time.Hour {
		t.Errorf("Old snapshot changed: got %v", limit)
	}

	limit, err = store.Snapshot().Limit(entity.SeverityHigh)
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}
	if limit != time.Hour {
		t.Errorf("New snapshot not applied: got %v", limit)
	}
}

// 热更新入口：从viper配置树构建快照并整体替换，缺失部分落回默认
func TestLoadFromViperReplacesSnapshot(t *testing.T) {
	store := NewStore(zap.NewNop())

	v := viper.New()
	v.Set("policy.sla", map[string]interface{}{
		entity.SeverityHigh: map[string]interface{}{"limit_hours": 2, "reminder_hours": 1},
	})
	v.Set("policy.third_party_rules", []map[string]interface{}{
		{"resolution": ResolutionScrap, "dept": DeptQuality, "person": "QA-Lead"},
	})
	v.Set("policy.cosmetic_categories", []string{CategoryAssembly})
	v.Set("policy.personnel", map[string]interface{}{
		DeptQuality: []string{"QA-Lead", "QA-Backup"},
	})

	if err := store.LoadFromViper(v); err != nil {
		t.Fatalf("LoadFromViper: %v", err)
	}
	snap := store.Snapshot()

	limit, err := snap.Limit(entity.SeverityHigh)
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}
	if limit != 2*time.Hour {
		t.Errorf("Expected configured 2h limit for A, got %v", limit)
	}
	if snap.Reminder(entity.SeverityHigh) != time.Hour {
		t.Errorf("Expected configured 1h reminder for A, got %v", snap.Reminder(entity.SeverityHigh))
	}
	// 未覆盖的等级保持默认
	limit, err = snap.Limit(entity.SeverityMedium)
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}
	if limit != 8*time.Hour {
		t.Errorf("Expected default 8h limit for B, got %v", limit)
	}

	rule, ok := snap.MatchThirdParty(ResolutionScrap)
	if !ok || rule.Dept != DeptQuality || rule.Person != "QA-Lead" {
		t.Errorf("Configured rule not applied: %+v ok=%v", rule, ok)
	}

	// 外观子集改为装配类后路由反转
	route, err := snap.RouteCategory(CategoryAssembly)
	if err != nil {
		t.Fatalf("RouteCategory: %v", err)
	}
	if route.PrimaryDept != DeptQuality {
		t.Errorf("Cosmetic subset override not applied: %+v", route)
	}

	if p := snap.DefaultPerson(DeptQuality); p != "QA-Lead" {
		t.Errorf("Personnel override not applied, got %s", p)
	}
}

func TestLoadFromViperRejectsInvalidSLA(t *testing.T) {
	store := NewStore(zap.NewNop())
	before := store.Snapshot()

	v := viper.New()
	v.Set("policy.sla", map[string]interface{}{
		entity.SeverityHigh: map[string]interface{}{"limit_hours": 0},
	})

	if err := store.LoadFromViper(v); err == nil {
		t.Fatal("Expected error for non-positive limit_hours")
	}
	// 装载失败不得替换现用快照
	if store.Snapshot() != before {
		t.Error("Snapshot changed after failed load")
	}
}

func TestDefaultPerson(t *testing.T) {
	snap := NewSnapshot(Params{
		Personnel: map[string][]string{
			DeptManagement: {"PlantManager", "DeputyManager"},
		},
	})

	if p := snap.DefaultPerson(DeptManagement); p != "PlantManager" {
		t.Errorf("Expected first configured person, got %s", p)
	}
	if p := snap.DefaultPerson(DeptMfg2); p != "" {
		t.Errorf("Expected empty for unconfigured dept, got %s", p)
	}
}
