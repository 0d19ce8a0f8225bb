// Package mail delivers transactional notifications. Template wording
// lives here; the payments service only picks an event kind and supplies
// parameters.
package mail

import (
	"context"
	"fmt"
	"os"

	"github.com/keighl/postmark"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Notification event kinds.
const (
	EventPaymentConfirmed    = "payment-confirmed"
	EventEditPassesConfirmed = "edit-passes-confirmed"
	EventApplicationReceived = "application-received"
)

// Attachment is a file attached to a notification. Content is base64.
type Attachment struct {
	Name        string
	ContentType string
	Content     string
}

// Sender delivers one notification to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, event string, params map[string]string, attachments []Attachment) error
}

// render produces the subject and HTML body for an event kind.
func render(event string, params map[string]string) (subject, html string) {
	switch event {
	case EventPaymentConfirmed:
		subject = "Payment Confirmed"
		html = fmt.Sprintf(
			"<strong>Dear %s,</strong><br><br>Your payment has been confirmed. Your passes: <strong>%s</strong>.",
			params["first_name"], params["ticket_list"],
		)
		if checkout := params["checkout_url"]; checkout != "" {
			html += fmt.Sprintf(
				"<br><br>Share your referral checkout link: <a href=\"%s\">%s</a>",
				checkout, checkout,
			)
		}
	case EventEditPassesConfirmed:
		subject = "Passes Updated"
		html = fmt.Sprintf(
			"<strong>Dear %s,</strong><br><br>Your passes have been updated: <strong>%s</strong>.",
			params["first_name"], params["ticket_list"],
		)
	case EventApplicationReceived:
		subject = "Application Received"
		html = fmt.Sprintf(
			"<strong>Dear %s,</strong><br><br>Your application has been received and is now in review.",
			params["first_name"],
		)
	default:
		subject = event
		html = fmt.Sprintf("<strong>Dear %s,</strong>", params["first_name"])
	}
	return subject, html
}

// PostmarkSender delivers through Postmark.
type PostmarkSender struct {
	client *postmark.Client
	sender string
	logger *zap.Logger
}

// NewPostmarkSender reads POSTMARK_API_TOKEN unless a token is provided.
func NewPostmarkSender(token, sender string, logger *zap.Logger) *PostmarkSender {
	if token == "" {
		token = os.Getenv("POSTMARK_API_TOKEN")
	}
	return &PostmarkSender{
		client: postmark.NewClient(token, ""),
		sender: sender,
		logger: logger,
	}
}

func (s *PostmarkSender) Send(_ context.Context, recipient, event string, params map[string]string, attachments []Attachment) error {
	subject, html := render(event, params)

	email := postmark.Email{
		From:     s.sender,
		To:       recipient,
		Subject:  subject,
		HtmlBody: html,
		TextBody: html,
	}
	for _, a := range attachments {
		email.Attachments = append(email.Attachments, postmark.Attachment{
			Name:        a.Name,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}

	if _, err := s.client.SendEmail(email); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Info("email sent", zap.String("event", event), zap.String("recipient", recipient))
	return nil
}

// SendgridSender delivers through SendGrid, selected with
// EMAIL_PROVIDER=sendgrid.
type SendgridSender struct {
	client     *sendgrid.Client
	sender     string
	senderName string
	logger     *zap.Logger
}

func NewSendgridSender(apiKey, sender, senderName string, logger *zap.Logger) *SendgridSender {
	return &SendgridSender{
		client:     sendgrid.NewSendClient(apiKey),
		sender:     sender,
		senderName: senderName,
		logger:     logger,
	}
}

func (s *SendgridSender) Send(_ context.Context, recipient, event string, params map[string]string, attachments []Attachment) error {
	subject, html := render(event, params)

	from := sgmail.NewEmail(s.senderName, s.sender)
	to := sgmail.NewEmail("", recipient)
	message := sgmail.NewSingleEmail(from, subject, to, html, html)
	for _, a := range attachments {
		attachment := sgmail.NewAttachment()
		attachment.SetFilename(a.Name)
		attachment.SetType(a.ContentType)
		attachment.SetContent(a.Content)
		message.AddAttachment(attachment)
	}

	response, err := s.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to send email: status %d", response.StatusCode)
	}
	s.logger.Info("email sent", zap.String("event", event), zap.String("recipient", recipient))
	return nil
}
