package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

const (
	ActionCardCreated   = "created"
	ActionCardCompleted = "completed"

	defaultNotifyTimeout = 10 * time.Second
)

// Notification describes a card change worth telling an integration about.
type Notification struct {
	Action     string
	BoardID    string
	BoardTitle string
	UserName   string
	Card       kanban.Card
}

// Notifier forwards notifications to an external system.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// SlackNotifier posts a message to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	who := n.UserName
	if who == "" {
		who = "Someone"
	}
	payload := map[string]string{
		"text":       fmt.Sprintf("%s %s card *%s* in board *%s*", who, n.Action, n.Card.Title, n.BoardTitle),
		"username":   "TaskFlow Bot",
		"icon_emoji": ":clipboard:",
	}
	return postJSON(ctx, s.client, s.webhookURL, nil, payload, nil)
}

// JiraNotifier mirrors newly created cards as Jira issues.
type JiraNotifier struct {
	siteURL    string
	token      string
	projectKey string
	client     *http.Client
}

func NewJiraNotifier(siteURL, token, projectKey string, client *http.Client) *JiraNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	if projectKey == "" {
		projectKey = "TASK"
	}
	return &JiraNotifier{
		siteURL:    strings.TrimRight(siteURL, "/"),
		token:      token,
		projectKey: projectKey,
		client:     client,
	}
}

func (j *JiraNotifier) Name() string { return "jira" }

type jiraIssue struct {
	Key string `json:"key"`
}

// Notify creates an issue for created cards and ignores every other action.
func (j *JiraNotifier) Notify(ctx context.Context, n Notification) error {
	if n.Action != ActionCardCreated {
		return nil
	}

	priority := "Medium"
	if p := string(n.Card.Priority); p != "" {
		priority = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	if priority == "Urgent" {
		priority = "Highest"
	}

	body := map[string]any{
		"fields": map[string]any{
			"project": map[string]string{"key": j.projectKey},
			"summary": n.Card.Title,
			"description": map[string]any{
				"type":    "doc",
				"version": 1,
				"content": []any{
					map[string]any{
						"type": "paragraph",
						"content": []any{
							map[string]string{"type": "text", "text": n.Card.Description},
						},
					},
				},
			},
			"issuetype": map[string]string{"name": "Task"},
			"priority":  map[string]string{"name": priority},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + j.token}

	var issue jiraIssue
	return postJSON(ctx, j.client, j.siteURL+"/rest/api/3/issue", headers, body, &issue)
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Dispatcher fans notifications out to every configured notifier without
// blocking the caller. Failures are logged and dropped.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

func NewDispatcher(log logrus.FieldLogger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, timeout: defaultNotifyTimeout, log: log}
}

// NotifyAsync sends n to every notifier in the background.
func (d *Dispatcher) NotifyAsync(n Notification) {
	if d == nil {
		return
	}
	for _, notifier := range d.notifiers {
		d.wg.Add(1)
		go func(notifier Notifier) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			log := d.log.WithFields(logrus.Fields{
				"notifier": notifier.Name(),
				"board_id": n.BoardID,
				"card_id":  n.Card.ID,
			})
			if err := notifier.Notify(ctx, n); err != nil {
				log.WithError(err).Warn("Notification failed")
				return
			}
			log.Debug("Notification sent")
		}(notifier)
	}
}

// Wait blocks until every pending notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
