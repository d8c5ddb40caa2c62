package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel 通用JSON webhook通道
// 把逾期提醒原样POST给对接方（IM网关、邮件网关等），传输细节由对方负责
type WebhookChannel struct {
	url        string
	httpClient *http.Client
}

// NewWebhookChannel 创建通用webhook通道
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string {
	return "webhook"
}

// SendOverdueAlert 发送逾期提醒
func (c *WebhookChannel) SendOverdueAlert(ctx context.Context, alert OverdueAlert) error {
	bodyBytes, err := json.Marshal(map[string]interface{}{
		"type":  "defect_overdue",
		"alert": alert,
	})
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("创建webhook请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送webhook失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook返回非2xx状态: %d", resp.StatusCode)
	}
	return nil
}
