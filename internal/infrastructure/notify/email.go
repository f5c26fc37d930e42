// Package notify implements the notification channels: email digests
// over SMTP and Feishu webhook cards.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"litwatch/internal/ports"
)

const emailDigestLimit = 20

// SMTPConfig holds the outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// EmailChannel renders an HTML digest and delivers it to every
// configured recipient.
type EmailChannel struct {
	cfg  SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

var _ ports.NotificationChannel = (*EmailChannel)(nil)

// NewEmailChannel wires the SMTP settings.
func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, send: smtp.SendMail}
}

func (e *EmailChannel) Name() string { return "email" }

var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body>
<h2>{{.TaskName}}: {{.Count}} new documents</h2>
{{range .Items}}
<div style="margin-bottom:16px">
  <h3><a href="{{.URL}}">{{.Title}}</a></h3>
  <p><b>Score:</b> {{printf "%.2f" .Score}}{{if .Authors}} &middot; {{.Authors}}{{end}}</p>
  {{if .Summary}}<p>{{.Summary}}</p>{{end}}
  {{if .Highlights}}<ul>{{range .Highlights}}<li>{{.}}</li>{{end}}</ul>{{end}}
</div>
{{end}}
</body>
</html>`))

type digestItem struct {
	Title      string
	URL        string
	Score      float64
	Authors    string
	Summary    string
	Highlights []string
}

// Send builds the digest once and mails it to each recipient in turn.
// A failed recipient does not block the rest; all failures are
// reported together after every delivery was attempted.
func (e *EmailChannel) Send(_ context.Context, msg ports.Notification) error {
	recipients := msg.Config.EmailRecipients
	if len(recipients) == 0 {
		return fmt.Errorf("email channel has no recipients")
	}
	if e.cfg.Host == "" || e.cfg.Sender == "" {
		return fmt.Errorf("email channel misconfigured")
	}

	subject := msg.Config.EmailSubjectTemplate
	if subject == "" {
		subject = "New literature for {task_name}"
	}
	subject = strings.ReplaceAll(subject, "{task_name}", msg.TaskName)

	body, err := e.renderBody(msg)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	var failures []error
	for _, to := range recipients {
		raw := e.buildMessage(to, subject, body)
		if err := e.send(addr, auth, e.cfg.Sender, []string{to}, raw); err != nil {
			failures = append(failures, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	return errors.Join(failures...)
}

func (e *EmailChannel) renderBody(msg ports.Notification) (string, error) {
	docs := msg.Documents
	if len(docs) > emailDigestLimit {
		docs = docs[:emailDigestLimit]
	}

	items := make([]digestItem, 0, len(docs))
	for _, sel := range docs {
		items = append(items, digestItem{
			Title:      sel.Document.Title,
			URL:        sel.Document.URL,
			Score:      sel.Verdict.Score,
			Authors:    strings.Join(sel.Document.Authors, ", "),
			Summary:    sel.Verdict.Summary,
			Highlights: sel.Verdict.Highlights,
		})
	}

	var buf strings.Builder
	err := digestTemplate.Execute(&buf, map[string]any{
		"TaskName": msg.TaskName,
		"Count":    len(msg.Documents),
		"Items":    items,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *EmailChannel) buildMessage(to, subject, body string) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "From: %s\r\n", e.cfg.Sender)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return []byte(buf.String())
}
