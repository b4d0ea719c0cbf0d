package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	IssueTrackerURL     string `envconfig:"ISSUE_TRACKER_URL" default:""`
	IssueTrackerToken   string `envconfig:"ISSUE_TRACKER_TOKEN" default:""`
	IssueTrackerProject string `envconfig:"ISSUE_TRACKER_PROJECT" default:"OPS"`

	MailAPIURL      string `envconfig:"MAIL_API_URL" default:"https://api.mailprovider.com"`
	MailAPIKey      string `envconfig:"MAIL_API_KEY" default:""`
	MailFromAddress string `envconfig:"MAIL_FROM_ADDRESS" default:""`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
