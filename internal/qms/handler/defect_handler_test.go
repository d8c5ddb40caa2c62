package handler

import (
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-qms/internal/qms/policy"
	"github.com/bitfantasy/nimo-qms/internal/qms/repository"
	"github.com/bitfantasy/nimo-qms/internal/qms/service"
	"github.com/bitfantasy/nimo-qms/internal/qms/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setupDefectTest(t *testing.T) *gin.Engine {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)

	policies := policy.NewStore(zap.NewNop())
	policies.Replace(policy.NewSnapshot(policy.Params{
		Personnel: map[string][]string{
			policy.DeptEngineering: {"EngineerOnDuty"},
			policy.DeptQuality:     {"QualityInspector"},
		},
	}))

	logger := zap.NewNop()
	workflow := service.NewWorkflowService(db, repos, policies, logger)
	defects := service.NewDefectService(db, repos, policies)
	h := NewDefectHandler(workflow, defects)
	ph := NewPolicyHandler(policies)

	r := testutil.SetupRouter()
	v1 := testutil.AuthGroup(r, "/api/v1")
	v1.POST("/defects", h.Create)
	v1.GET("/defects", h.List)
	v1.GET("/defects/overdue", h.ListOverdue)
	v1.GET("/defects/:id", h.Get)
	v1.DELETE("/defects/:id", h.Delete)
	v1.POST("/defects/:id/submit", h.SubmitResolution)
	v1.POST("/defects/:id/approve", h.ApproveSecondary)
	v1.POST("/defects/:id/reject", h.RejectSecondary)
	v1.POST("/defects/:id/third-approve", h.ApproveThirdParty)
	v1.POST("/defects/:id/third-reject", h.RejectThirdParty)
	v1.POST("/defects/:id/transfer", h.Transfer)
	v1.GET("/work-orders/:workOrder/stats", h.WorkOrderStats)
	v1.GET("/work-orders/:workOrder/next-seq", h.NextPackageSeq)
	v1.GET("/policy", ph.Get)
	return r
}

func createCaseHTTP(t *testing.T, r *gin.Engine, workOrder string) string {
	t.Helper()
	w := testutil.DoRequest(r, "POST", "/api/v1/defects", map[string]interface{}{
		"work_order":       workOrder,
		"product_name":     "旋钮组件",
		"work_order_total": 500,
		"category":         "FunctionalFailure",
		"severity":         "B",
		"quantity":         10,
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	return data["id"].(string)
}

func TestCreateDefectRequiresAuth(t *testing.T) {
	r := setupDefectTest(t)

	w := testutil.DoRequest(r, "POST", "/api/v1/defects", map[string]interface{}{}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestCreateDefect(t *testing.T) {
	r := setupDefectTest(t)

	w := testutil.DoRequest(r, "POST", "/api/v1/defects", map[string]interface{}{
		"work_order":   "WO-H001",
		"product_name": "外壳",
		"category":     "SurfaceDefect",
		"severity":     "A",
		"quantity":     3,
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["stage"] != "pending_primary" || data["status"] != "open" {
		t.Errorf("Expected pending_primary/open, got %v/%v", data["stage"], data["status"])
	}
	if data["primary_dept"] != "QualityDept" {
		t.Errorf("SurfaceDefect must route to QualityDept, got %v", data["primary_dept"])
	}
	if data["package_seq"].(float64) != 1 {
		t.Errorf("Expected seq 1, got %v", data["package_seq"])
	}
	if data["logged_by"] != "Test Inspector" {
		t.Errorf("Expected logged_by from JWT, got %v", data["logged_by"])
	}
}

func TestCreateDefectValidation(t *testing.T) {
	r := setupDefectTest(t)

	// 缺必填字段
	w := testutil.DoRequest(r, "POST", "/api/v1/defects", map[string]interface{}{
		"work_order": "WO-H002",
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}

	// 非法严重等级
	w = testutil.DoRequest(r, "POST", "/api/v1/defects", map[string]interface{}{
		"work_order":   "WO-H002",
		"product_name": "p",
		"category":     "Other",
		"severity":     "Z",
		"quantity":     1,
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad severity, got %d", w.Code)
	}
}

func TestApprovalFlowHTTP(t *testing.T) {
	r := setupDefectTest(t)
	id := createCaseHTTP(t, r, "WO-H101")
	token := testutil.DefaultTestToken()

	// 提交报废处理
	w := testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/submit", map[string]interface{}{
		"resolution": "Scrap",
		"note":       "全数报废",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 次责签核 → 命中第三责任路由
	w = testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/approve", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["stage"] != "pending_third" {
		t.Errorf("Expected pending_third, got %v", data["stage"])
	}
	if data["third_dept"] != "ManagementDept" || data["third_person"] != "PlantManager" {
		t.Errorf("Expected ManagementDept/PlantManager, got %v/%v", data["third_dept"], data["third_person"])
	}

	// 再次签核同一阶段 → 409
	w = testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/approve", nil, token)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for repeated approve, got %d", w.Code)
	}

	// 第三责任人终审
	w = testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/third-approve", map[string]interface{}{
		"note": "同意",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("third-approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != "closed" || data["completed_at"] == nil {
		t.Errorf("Expected closed with completed_at, got %v/%v", data["status"], data["completed_at"])
	}

	// 详情含处理记录
	w = testutil.DoRequest(r, "GET", "/api/v1/defects/"+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	logs := data["process_logs"].([]interface{})
	if len(logs) != 4 {
		t.Errorf("Expected 4 process logs, got %d", len(logs))
	}
}

func TestRejectRequiresReasonHTTP(t *testing.T) {
	r := setupDefectTest(t)
	id := createCaseHTTP(t, r, "WO-H201")
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/submit", map[string]interface{}{
		"resolution": "JudgedOK",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d", w.Code)
	}

	w = testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/reject", map[string]interface{}{}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without reason, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "POST", "/api/v1/defects/"+id+"/reject", map[string]interface{}{
		"reason": "数据不全",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["stage"] != "primary_in_progress" {
		t.Errorf("Expected primary_in_progress, got %v", data["stage"])
	}
}

func TestListAndFilter(t *testing.T) {
	r := setupDefectTest(t)
	token := testutil.DefaultTestToken()

	createCaseHTTP(t, r, "WO-H301")
	createCaseHTTP(t, r, "WO-H301")
	createCaseHTTP(t, r, "WO-H302")

	w := testutil.DoRequest(r, "GET", "/api/v1/defects?work_order=WO-H301", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	pagination := data["pagination"].(map[string]interface{})
	if pagination["total"].(float64) != 2 {
		t.Errorf("Expected 2 cases for WO-H301, got %v", pagination["total"])
	}
}

func TestListPageSizeClamped(t *testing.T) {
	r := setupDefectTest(t)
	token := testutil.DefaultTestToken()

	createCaseHTTP(t, r, "WO-H310")

	// 超限的page_size压到上限100
	w := testutil.DoRequest(r, "GET", "/api/v1/defects?page_size=500", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	pagination := data["pagination"].(map[string]interface{})
	if pagination["page_size"].(float64) != 100 {
		t.Errorf("Expected page_size clamped to 100, got %v", pagination["page_size"])
	}
}

func TestWorkOrderStatsAndNextSeq(t *testing.T) {
	r := setupDefectTest(t)
	token := testutil.DefaultTestToken()

	createCaseHTTP(t, r, "WO-H401")
	createCaseHTTP(t, r, "WO-H401")

	w := testutil.DoRequest(r, "GET", "/api/v1/work-orders/WO-H401/stats", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["total_defects"].(float64) != 20 {
		t.Errorf("Expected 20 total defects, got %v", data["total_defects"])
	}
	if data["defect_rate"].(float64) != 4 {
		t.Errorf("Expected 4%% defect rate, got %v", data["defect_rate"])
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/work-orders/WO-H401/next-seq", nil, token)
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["next_seq"].(float64) != 3 {
		t.Errorf("Expected next seq 3, got %v", data["next_seq"])
	}
}

func TestDeleteDefectHTTP(t *testing.T) {
	r := setupDefectTest(t)
	id := createCaseHTTP(t, r, "WO-H501")
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(r, "DELETE", "/api/v1/defects/"+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/defects/"+id, nil, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
}

func TestPolicyIntrospection(t *testing.T) {
	r := setupDefectTest(t)

	w := testutil.DoRequest(r, "GET", "/api/v1/policy", nil, testutil.DefaultTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("policy: %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	sla := data["sla"].(map[string]interface{})
	for _, sev := range []string{"A", "B", "C"} {
		if _, ok := sla[sev]; !ok {
			t.Errorf("Missing SLA entry for %s", sev)
		}
	}
	rules := data["third_party_rules"].([]interface{})
	if len(rules) == 0 {
		t.Error("Expected configured third party rules")
	}
}
