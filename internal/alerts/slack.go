package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"webhookd/internal/faults"
	"webhookd/internal/types"
)

// maxSlackResponseRead limits how much of an error response body is read
// for the error message.
const maxSlackResponseRead = 4096

// slackText is a Block Kit text object.
type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// slackBlock is a Block Kit layout block.
type slackBlock struct {
	Type   string       `json:"type"`
	Text   *slackText   `json:"text,omitempty"`
	Fields []*slackText `json:"fields,omitempty"`
}

// slackPayload is the incoming-webhook message body. Text is the fallback
// for clients that do not render blocks.
type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

var _ faults.Notifier = (*SlackNotifier)(nil)

// SlackNotifier posts alerts to a Slack incoming webhook as Block Kit
// messages.
type SlackNotifier struct {
	webhookURL types.SecretString
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier creates a notifier for the given incoming-webhook URL.
// httpClient may be nil to use a client with a 10 second timeout.
func NewSlackNotifier(webhookURL types.SecretString, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify formats and posts the alert. A non-2xx response is an error; the
// caller decides whether delivery failure matters.
func (n *SlackNotifier) Notify(ctx context.Context, severity types.Severity, title string, fields map[string]any) error {
	body, err := json.Marshal(n.buildPayload(severity, title, fields))
	if err != nil {
		return fmt.Errorf("alerts: failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL.Unmask(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: slack delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxSlackResponseRead))
		return fmt.Errorf("alerts: slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	n.logger.InfoContext(ctx, "alert delivered to slack",
		slog.String("severity", severity.String()),
		slog.String("title", title),
	)
	return nil
}

func (n *SlackNotifier) buildPayload(severity types.Severity, title string, fields map[string]any) slackPayload {
	fallback := fmt.Sprintf("[%s] %s", strings.ToUpper(severity.String()), title)

	payload := slackPayload{
		Text: fallback,
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: title},
			},
		},
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		blockFields := make([]*slackText, 0, len(keys)+1)
		blockFields = append(blockFields, &slackText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*severity:*\n%s", severity.String()),
		})
		for _, k := range keys {
			blockFields = append(blockFields, &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:*\n%v", k, fields[k]),
			})
		}
		payload.Blocks = append(payload.Blocks, slackBlock{
			Type:   "section",
			Fields: blockFields,
		})
	}

	return payload
}
