package mail

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Message is a single outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridMailer delivers through the SendGrid v3 API.
type SendGridMailer struct {
	send func(ctx context.Context, email *sgmail.SGMailV3) (int, string, error)
	from *sgmail.Email
}

// NewSendGridMailer builds a mailer for the given API key and sender.
func NewSendGridMailer(apiKey, fromAddress, fromName string) *SendGridMailer {
	client := sendgrid.NewSendClient(apiKey)
	return &SendGridMailer{
		send: func(ctx context.Context, email *sgmail.SGMailV3) (int, string, error) {
			resp, err := client.SendWithContext(ctx, email)
			if err != nil {
				return 0, "", err
			}
			return resp.StatusCode, resp.Body, nil
		},
		from: sgmail.NewEmail(fromName, fromAddress),
	}
}

// Send implements Mailer.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	email := sgmail.NewSingleEmail(m.from, msg.Subject, sgmail.NewEmail(msg.ToName, msg.To), msg.Text, msg.HTML)
	status, body, err := m.send(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", status, strings.TrimSpace(body))
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when
// no SendGrid key is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info("email not sent, no provider configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}

var otpTemplate = template.Must(template.New("otp").Parse(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto">
  <h2>Email Verification</h2>
  <p>Hi {{.Name}}, your verification code is:</p>
  <div style="background:#f6f6f6;padding:16px;text-align:center;font-size:32px;letter-spacing:8px;font-weight:700">{{.Code}}</div>
  <p style="color:#666">This code expires in {{.Minutes}} minutes.</p>
</div>`))

// OTPMessage renders the account verification email.
func OTPMessage(name, email, code string, ttl time.Duration) (Message, error) {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	var html strings.Builder
	if err := otpTemplate.Execute(&html, map[string]interface{}{"Name": name, "Code": code, "Minutes": minutes}); err != nil {
		return Message{}, fmt.Errorf("render otp email: %w", err)
	}
	return Message{
		To:      email,
		ToName:  name,
		Subject: "Verify your email - Course Portal",
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
		HTML:    html.String(),
	}, nil
}
