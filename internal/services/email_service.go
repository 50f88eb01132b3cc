package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// AWSSESEmailService delivers security notices using AWS SES.
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email sender
func NewAWSSESEmailService(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Channel identifies this sender in logs and metrics.
func (s *AWSSESEmailService) Channel() string {
	return "email"
}

// Send delivers one notice with HTML and plain-text bodies.
func (s *AWSSESEmailService) Send(ctx context.Context, notice Notice) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
        </div>
        <div class="content">
            <p>%s</p>
        </div>
        <div class="footer">
            <p>This is an automated security message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(notice.Subject), strings.ReplaceAll(html.EscapeString(notice.Body), "\n", "<br>"))

	textBody := fmt.Sprintf("%s\n\n%s\n\nThis is an automated security message. Please do not reply to this email.\n",
		notice.Subject, notice.Body)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{notice.ToEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(notice.Subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("security email sent",
		slog.String("email", pkglogger.SanitizedEmail(notice.ToEmail)),
		slog.String("subject", notice.Subject),
		slog.String("message_id", *result.MessageId))

	return nil
}
