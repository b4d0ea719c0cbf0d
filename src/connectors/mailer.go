package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// MailerClient sends transactional email through the mail provider's HTTP
// API. When unconfigured, callers skip notification silently.
type MailerClient struct {
	apiKey      string
	fromAddress string
	http        *resty.Client
}

func NewMailerClient(cfg Config) *MailerClient {
	httpClient := resty.New().
		SetBaseURL(cfg.MailAPIURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	if cfg.MailAPIKey != "" {
		httpClient.SetAuthToken(cfg.MailAPIKey)
	}

	return &MailerClient{
		apiKey:      cfg.MailAPIKey,
		fromAddress: cfg.MailFromAddress,
		http:        httpClient,
	}
}

// IsConfigured reports whether sending can be attempted.
func (c *MailerClient) IsConfigured() bool {
	return c.apiKey != "" && c.fromAddress != ""
}

type sendEmailRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// Send delivers one message. Errors are for the caller to log; the tracking
// engine never propagates them.
func (c *MailerClient) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendEmailRequest{
			From:     c.fromAddress,
			To:       to,
			Subject:  subject,
			HTMLBody: htmlBody,
			TextBody: textBody,
		}).
		Post("/v1/messages")

	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("mail provider returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.WithFields(map[string]interface{}{
		"component": "MailerClient",
		"to":        to,
		"subject":   subject,
	}).Info("Notification email sent")

	return nil
}
