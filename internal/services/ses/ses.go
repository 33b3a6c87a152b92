// Package ses provides borrower notification e-mails via AWS SES
package ses

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/utils"
)

// emailAPI is the subset of *ses.Client the service uses.
type emailAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Service handles SES email operations
type Service struct {
	client    emailAPI
	fromEmail string
}

// EmailParams represents parameters for sending an email
type EmailParams struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  string
}

// NPLNoticeParams contains data for a non-performing loan notice
type NPLNoticeParams struct {
	Email       string
	LoanID      int64
	Outstanding models.Money
	DueDate     time.Time
	DaysOverdue int
	Currency    string
}

// SendEmailResult contains the result of sending an email
type SendEmailResult struct {
	MessageID string
	SentAt    time.Time
}

// NewService creates a new SES service sending from fromEmail
func NewService(ctx context.Context, fromEmail string) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Service{
		client:    ses.NewFromConfig(cfg),
		fromEmail: fromEmail,
	}, nil
}

// SendEmail sends a basic email
func (s *Service) SendEmail(ctx context.Context, params EmailParams) (*SendEmailResult, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{params.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(params.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}

	if params.HTMLBody != "" {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(params.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if params.TextBody != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(params.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if params.ReplyTo != "" {
		input.ReplyToAddresses = []string{params.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		utils.GetLogger().Error("Failed to send email",
			zap.String("to", params.To),
			zap.String("subject", params.Subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	utils.GetLogger().Info("Email sent successfully",
		zap.String("to", params.To),
		zap.String("subject", params.Subject),
		zap.String("messageId", messageID),
	)

	return &SendEmailResult{
		MessageID: messageID,
		SentAt:    time.Now(),
	}, nil
}

// SendNPLNotice tells a borrower their loan has been classified non-performing
func (s *Service) SendNPLNotice(ctx context.Context, params NPLNoticeParams) (*SendEmailResult, error) {
	htmlBody, err := renderNPLNoticeHTML(params)
	if err != nil {
		return nil, fmt.Errorf("failed to render email template: %w", err)
	}

	return s.SendEmail(ctx, EmailParams{
		To:       params.Email,
		Subject:  fmt.Sprintf("Loan #%d is %d days overdue", params.LoanID, params.DaysOverdue),
		HTMLBody: htmlBody,
		TextBody: renderNPLNoticeText(params),
	})
}

var nplNoticeTemplate = template.Must(template.New("npl_notice").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Helvetica, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #b42318; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9f9f9; padding: 24px; border-radius: 0 0 8px 8px; }
        .amount { font-size: 22px; font-weight: bold; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Your loan is overdue</h1>
    </div>
    <div class="content">
        <p>Loan #{{.LoanID}} was due on {{.DueDate.Format "2 Jan 2006"}} and is now {{.DaysOverdue}} days overdue.</p>
        <p>Outstanding balance:</p>
        <p class="amount">{{.Outstanding.StringFixed 2}} {{.Currency}}</p>
        <p>Penalties continue to accrue until the balance is repaid in full. Please repay as soon as possible or contact your provider to discuss your options.</p>
    </div>
</body>
</html>`))

func renderNPLNoticeHTML(params NPLNoticeParams) (string, error) {
	var buf bytes.Buffer
	if err := nplNoticeTemplate.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderNPLNoticeText(params NPLNoticeParams) string {
	var buf bytes.Buffer

	buf.WriteString("Hello,\n\n")
	buf.WriteString(fmt.Sprintf("Loan #%d was due on %s and is now %d days overdue.\n",
		params.LoanID, params.DueDate.Format("2 Jan 2006"), params.DaysOverdue))
	buf.WriteString(fmt.Sprintf("Outstanding balance: %s %s\n\n", params.Outstanding.StringFixed(2), params.Currency))
	buf.WriteString("Penalties continue to accrue until the balance is repaid in full.\n")

	return buf.String()
}
