package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sampleAlert() OverdueAlert {
	return OverdueAlert{
		Department: "EngineeringDept",
		Count:      1,
		Cases: []OverdueCase{
			{
				WorkOrder:    "WO-1001",
				PackageSeq:   2,
				ProductName:  "旋钮组件",
				Severity:     "A",
				Quantity:     5,
				CreatedAt:    time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
				HoursOverdue: 1.5,
			},
		},
	}
}

func TestWebhookChannelPostsAlert(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	if err := ch.SendOverdueAlert(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("SendOverdueAlert: %v", err)
	}

	if got["type"] != "defect_overdue" {
		t.Errorf("Expected type defect_overdue, got %v", got["type"])
	}
	alert := got["alert"].(map[string]interface{})
	if alert["Department"] != "EngineeringDept" {
		t.Errorf("Department mismatch: %v", alert["Department"])
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	if err := ch.SendOverdueAlert(context.Background(), sampleAlert()); err == nil {
		t.Fatal("Expected error on non-2xx response")
	}
}

func TestFeishuChannelChecksResultCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["msg_type"] != "interactive" {
			t.Errorf("Expected interactive card, got %v", body["msg_type"])
		}
		// 飞书webhook返回200但code非0表示失败
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 19001, "msg": "invalid card"})
	}))
	defer srv.Close()

	ch := NewFeishuChannel(srv.URL, 5*time.Second)
	if err := ch.SendOverdueAlert(context.Background(), sampleAlert()); err == nil {
		t.Fatal("Expected error when feishu returns non-zero code")
	}
}
