package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
)

type EmailSettings struct {
	Enabled       bool
	Host          string
	Port          int
	SSL           bool
	Username      string
	Password      string
	From          string
	To            []string
	OnlyOnFailure bool
}

// Validate 只校验发送所需字段；Host 为空时按发件人域名推断 SMTP 服务器。
func (s EmailSettings) Validate() error {
	from := strings.TrimSpace(s.From)
	if from == "" {
		from = strings.TrimSpace(s.Username)
	}
	if from == "" {
		return errors.New("email.from is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return fmt.Errorf("invalid email.from %q", from)
	}
	if len(s.To) == 0 {
		return errors.New("email.to is required")
	}
	for _, to := range s.To {
		if _, err := mail.ParseAddress(strings.TrimSpace(to)); err != nil {
			return fmt.Errorf("invalid email.to %q", to)
		}
	}
	if strings.TrimSpace(s.Password) == "" {
		return errors.New("email.password is required")
	}
	return nil
}

type sendFunc func(ctx context.Context, settings EmailSettings, msg *gomail.Message) error

// EmailNotifier mails one summary per finished run. It is a RunSubscriber.
type EmailNotifier struct {
	settings EmailSettings
	bus      *logbus.Bus
	send     sendFunc

	mu     sync.Mutex
	queue  chan model.RunSummary
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(settings EmailSettings, bus *logbus.Bus) *EmailNotifier {
	return newEmailNotifier(settings, bus, dialAndSend)
}

func newEmailNotifier(settings EmailSettings, bus *logbus.Bus, send sendFunc) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings: settings,
		bus:      bus,
		send:     send,
		queue:    make(chan model.RunSummary, 32),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) OnRunFinished(_ context.Context, sum model.RunSummary) error {
	if !n.settings.Enabled {
		return nil
	}
	if n.settings.OnlyOnFailure && len(sum.FailedAccounts) == 0 {
		return nil
	}
	select {
	case n.queue <- sum:
		return nil
	default:
		return errors.New("email queue full")
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			// drain what was queued before shutdown
			for {
				select {
				case sum := <-n.queue:
					n.deliver(context.Background(), sum)
				default:
					return
				}
			}
		case sum := <-n.queue:
			n.deliver(n.ctx, sum)
		}
	}
}

func (n *EmailNotifier) deliver(ctx context.Context, sum model.RunSummary) {
	if err := n.settings.Validate(); err != nil {
		n.log("warn", "email settings invalid", map[string]any{"error": err.Error()})
		return
	}
	msg, err := buildRunSummaryMessage(n.settings, sum)
	if err != nil {
		n.log("warn", "email build failed", map[string]any{"error": err.Error(), "runId": sum.RunID})
		return
	}
	if err := n.send(ctx, n.settings, msg); err != nil {
		n.log("warn", "email send failed", map[string]any{"error": err.Error(), "runId": sum.RunID})
		return
	}
	n.log("info", "run summary emailed", map[string]any{
		"runId": sum.RunID,
		"to":    strings.Join(n.settings.To, ","),
	})
}

func (n *EmailNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

func dialAndSend(ctx context.Context, s EmailSettings, msg *gomail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	host, port, ssl := strings.TrimSpace(s.Host), s.Port, s.SSL
	if host == "" {
		var err error
		host, port, ssl, err = smtpConfigForEmail(senderAddress(s))
		if err != nil {
			return err
		}
	}
	d := gomail.NewDialer(host, port, strings.TrimSpace(s.Username), s.Password)
	d.SSL = ssl
	return d.DialAndSend(msg)
}

func senderAddress(s EmailSettings) string {
	if v := strings.TrimSpace(s.From); v != "" {
		return v
	}
	return strings.TrimSpace(s.Username)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))
	is := func(d string) bool { return domain == d || strings.HasSuffix(domain, "."+d) }

	switch {
	case is("qq.com") || is("foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case is("163.com") || is("126.com") || is("yeah.net"):
		return "smtp.163.com", 465, true, nil
	case is("gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case is("outlook.com") || is("hotmail.com") || is("live.com"):
		return "smtp.office365.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildRunSummaryMessage(s EmailSettings, sum model.RunSummary) (*gomail.Message, error) {
	htmlBody, textBody, err := buildRunSummaryBody(sum)
	if err != nil {
		return nil, err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(senderAddress(s), "keepalive"))
	msg.SetHeader("To", s.To...)
	msg.SetHeader("Subject", runSummarySubject(sum))
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)
	return msg, nil
}

func runSummarySubject(sum model.RunSummary) string {
	if len(sum.FailedAccounts) > 0 {
		return fmt.Sprintf("keepalive: %d/%d succeeded, failed: %s", sum.SuccessCount, sum.Total, strings.Join(sum.FailedAccounts, ", "))
	}
	return fmt.Sprintf("keepalive: %d/%d succeeded", sum.SuccessCount, sum.Total)
}

var runSummaryHTMLTpl = template.Must(template.New("run-summary").Parse(`
<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>keepalive run</title></head>
  <body style="font-family:-apple-system,'Segoe UI',Roboto,Arial,sans-serif;background:#f6f8fb;padding:24px;">
    <div style="max-width:720px;margin:0 auto;background:#ffffff;border:1px solid #e6e8ef;border-radius:12px;padding:20px;">
      <div style="font-size:16px;font-weight:700;">Keepalive run {{ .RunID }}</div>
      <div style="margin-top:6px;font-size:12px;color:#6b7280;">{{ .Start }} ~ {{ .End }} ({{ .Duration }})</div>
      <div style="margin-top:12px;font-size:14px;">{{ .Success }} / {{ .Total }} succeeded</div>
      <table style="margin-top:12px;width:100%;border-collapse:collapse;font-size:12px;">
        <thead>
          <tr style="background:#fafbff;">
            <th style="padding:8px;text-align:left;">Account</th>
            <th style="padding:8px;text-align:left;">Outcome</th>
            <th style="padding:8px;text-align:left;">Reason</th>
            <th style="padding:8px;text-align:left;">Duration</th>
          </tr>
        </thead>
        <tbody>
          {{ range .Rows }}
          <tr>
            <td style="padding:8px;border-top:1px solid #eef0f6;">{{ .Name }}</td>
            <td style="padding:8px;border-top:1px solid #eef0f6;">{{ .Outcome }}</td>
            <td style="padding:8px;border-top:1px solid #eef0f6;">{{ .Reason }}</td>
            <td style="padding:8px;border-top:1px solid #eef0f6;">{{ .Duration }}</td>
          </tr>
          {{ end }}
        </tbody>
      </table>
    </div>
  </body>
</html>
`))

func buildRunSummaryBody(sum model.RunSummary) (htmlBody string, textBody string, err error) {
	type row struct {
		Name     string
		Outcome  string
		Reason   string
		Duration string
	}
	rows := make([]row, 0, len(sum.Results))
	for _, r := range sum.Results {
		rows = append(rows, row{
			Name:     r.Name,
			Outcome:  string(r.Outcome),
			Reason:   r.Reason,
			Duration: r.Duration.Round(time.Second).String(),
		})
	}
	data := struct {
		RunID    string
		Start    string
		End      string
		Duration string
		Success  int
		Total    int
		Rows     []row
	}{
		RunID:    sum.RunID,
		Start:    sum.StartedAt.Format("2006-01-02 15:04:05"),
		End:      sum.FinishedAt.Format("2006-01-02 15:04:05"),
		Duration: sum.Duration.Round(time.Second).String(),
		Success:  sum.SuccessCount,
		Total:    sum.Total,
		Rows:     rows,
	}

	var buf bytes.Buffer
	if err := runSummaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	fmt.Fprintf(text, "keepalive run %s\n", sum.RunID)
	fmt.Fprintf(text, "%d / %d succeeded, %s ~ %s (%s)\n", sum.SuccessCount, sum.Total, data.Start, data.End, data.Duration)
	for _, r := range rows {
		if r.Reason != "" {
			fmt.Fprintf(text, "- %s | %s | %s | %s\n", r.Name, r.Outcome, r.Reason, r.Duration)
			continue
		}
		fmt.Fprintf(text, "- %s | %s | %s\n", r.Name, r.Outcome, r.Duration)
	}
	return buf.String(), text.String(), nil
}
