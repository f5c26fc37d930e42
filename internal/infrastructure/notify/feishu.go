package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"litwatch/internal/ports"
)

const feishuDigestLimit = 10

// FeishuChannel posts an interactive card to a Feishu group webhook.
// The webhook URL comes from the task's notification config, so one
// channel instance serves every task.
type FeishuChannel struct {
	client *http.Client
}

var _ ports.NotificationChannel = (*FeishuChannel)(nil)

// NewFeishuChannel builds the channel with a short request timeout.
func NewFeishuChannel() *FeishuChannel {
	return &FeishuChannel{client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *FeishuChannel) Name() string { return "feishu" }

// Send posts the card and checks both the HTTP status and the webhook
// response code, which Feishu reports in the body.
func (f *FeishuChannel) Send(ctx context.Context, msg ports.Notification) error {
	webhook := msg.Config.FeishuWebhookURL
	if webhook == "" {
		return fmt.Errorf("feishu channel has no webhook url")
	}

	payload, err := json.Marshal(f.buildCard(msg))
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feishu webhook returned status %d", resp.StatusCode)
	}

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.Code != 0 {
		return fmt.Errorf("feishu webhook rejected message: %d %s", result.Code, result.Msg)
	}
	return nil
}

func (f *FeishuChannel) buildCard(msg ports.Notification) map[string]any {
	docs := msg.Documents
	if len(docs) > feishuDigestLimit {
		docs = docs[:feishuDigestLimit]
	}

	elements := make([]map[string]any, 0, len(docs)*2)
	for i, sel := range docs {
		var text strings.Builder
		fmt.Fprintf(&text, "**%d. [%s](%s)**\n", i+1, sel.Document.Title, sel.Document.URL)
		fmt.Fprintf(&text, "Score: %.2f", sel.Verdict.Score)
		if len(sel.Document.Authors) > 0 {
			fmt.Fprintf(&text, " | %s", strings.Join(sel.Document.Authors, ", "))
		}
		if sel.Verdict.Summary != "" {
			fmt.Fprintf(&text, "\n%s", sel.Verdict.Summary)
		}

		elements = append(elements, map[string]any{
			"tag":     "markdown",
			"content": text.String(),
		})
		if i < len(docs)-1 {
			elements = append(elements, map[string]any{"tag": "hr"})
		}
	}

	title := fmt.Sprintf("%s: %d new documents", msg.TaskName, len(msg.Documents))
	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title":    map[string]any{"tag": "plain_text", "content": title},
				"template": "blue",
			},
			"elements": elements,
		},
	}
}
