package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	trackerRetryAttempts = 3
	trackerRetryBaseWait = 500 * time.Millisecond
	trackerRetryMaxWait  = 5 * time.Second
)

// IssueTrackerClient mirrors tickets into an external issue tracker over its
// REST API. The whole client is best effort: callers treat any failure as
// log-and-move-on.
type IssueTrackerClient struct {
	baseURL    string
	apiToken   string
	projectKey string
	http       *resty.Client
}

func NewIssueTrackerClient(cfg Config) *IssueTrackerClient {
	baseURL := strings.TrimRight(cfg.IssueTrackerURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(trackerRetryAttempts - 1).
		SetRetryWaitTime(trackerRetryBaseWait).
		SetRetryMaxWaitTime(trackerRetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	if cfg.IssueTrackerToken != "" {
		httpClient.SetAuthToken(cfg.IssueTrackerToken)
	}

	return &IssueTrackerClient{
		baseURL:    baseURL,
		apiToken:   cfg.IssueTrackerToken,
		projectKey: cfg.IssueTrackerProject,
		http:       httpClient,
	}
}

// Enabled reports whether the external tracker is configured at all.
func (c *IssueTrackerClient) Enabled() bool {
	return c.baseURL != "" && c.apiToken != ""
}

type createIssueRequest struct {
	ProjectKey  string   `json:"project_key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

type createIssueResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CreateIssue creates an issue and returns its external key and URL.
func (c *IssueTrackerClient) CreateIssue(ctx context.Context, title, description string) (string, string, error) {
	var result createIssueResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createIssueRequest{
			ProjectKey:  c.projectKey,
			Title:       title,
			Description: description,
			Labels:      []string{"auto-created", "system-error"},
		}).
		SetResult(&result).
		Post("/api/v2/issues")

	if err != nil {
		return "", "", fmt.Errorf("issue tracker request failed: %w", err)
	}

	if resp.IsError() {
		return "", "", fmt.Errorf("issue tracker returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.WithFields(map[string]interface{}{
		"component": "IssueTrackerClient",
		"key":       result.Key,
	}).Info("External issue created")

	return result.Key, result.URL, nil
}
