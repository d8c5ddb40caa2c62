package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// FeishuChannel — 飞书群机器人webhook通道
// 逾期提醒以交互卡片发到部门群
// =============================================================================

// FeishuChannel 飞书群机器人通道
type FeishuChannel struct {
	webhookURL string
	httpClient *http.Client
}

// NewFeishuChannel 创建飞书群机器人通道
func NewFeishuChannel(webhookURL string, timeout time.Duration) *FeishuChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeishuChannel{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *FeishuChannel) Name() string {
	return "feishu"
}

// CardText 卡片文本元素
type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// CardElement 卡片内容元素
type CardElement struct {
	Tag  string    `json:"tag"`
	Text *CardText `json:"text,omitempty"`
}

// CardHeader 卡片头
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template"`
}

// InteractiveCard 飞书交互卡片
type InteractiveCard struct {
	Header   *CardHeader   `json:"header,omitempty"`
	Elements []CardElement `json:"elements"`
}

// SendOverdueAlert 发送逾期提醒卡片
func (c *FeishuChannel) SendOverdueAlert(ctx context.Context, alert OverdueAlert) error {
	card := buildOverdueCard(alert)

	payload := map[string]interface{}{
		"msg_type": "interactive",
		"card":     card,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化卡片失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("创建webhook请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送飞书webhook失败: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return fmt.Errorf("解析webhook响应失败: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("飞书webhook返回错误: code=%d msg=%s", result.Code, result.Msg)
	}
	return nil
}

// buildOverdueCard 构建部门逾期提醒卡片
func buildOverdueCard(alert OverdueAlert) InteractiveCard {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**部门：**%s\n**逾期案件数：**%d 件\n", alert.Department, alert.Count)
	for _, oc := range alert.Cases {
		fmt.Fprintf(&sb, "---\n🏷️ 工单：%s（第%d包）\n📦 产品：%s\n⚠️ 等级：%s级 / %d pcs\n⏰ 建立：%s\n🔴 逾期：%.1f 小时\n",
			oc.WorkOrder, oc.PackageSeq, oc.ProductName, oc.Severity, oc.Quantity,
			oc.CreatedAt.Format("01-02 15:04"), oc.HoursOverdue)
	}

	return InteractiveCard{
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "🚨 不良品处理逾期提醒"},
			Template: "red",
		},
		Elements: []CardElement{
			{Tag: "div", Text: &CardText{Tag: "lark_md", Content: sb.String()}},
		},
	}
}
