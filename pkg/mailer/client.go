/**
 * @description
 * Client for the transactional email provider (Resend-compatible API). The
 * engine treats delivery as fire-and-forget with a bounded wait: the request
 * either succeeds within the HTTP timeout or the caller records a failed
 * attempt and retries on a later sweep.
 */
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wealthos/recurring-service/internal/domain"
)

// Client sends transactional emails over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewClient creates a new mailer client. An empty apiKey yields a client whose
// sends fail, so callers never mistake an unconfigured mailer for a delivery.
func NewClient(baseURL, apiKey, from string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendBudgetAlert delivers a budget threshold alert to the budget's owner.
func (c *Client) SendBudgetAlert(ctx context.Context, alert domain.BudgetAlert) error {
	subject := fmt.Sprintf("Budget Alert for %s", alert.AccountName)
	return c.send(ctx, alert.UserEmail, subject, renderBudgetAlert(alert))
}

func (c *Client) send(ctx context.Context, to, subject, html string) error {
	if c.apiKey == "" {
		return fmt.Errorf("mailer is not configured: missing API key")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("mailer: empty recipient address")
	}

	payload := emailRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to email provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("email provider returned error status %d", resp.StatusCode)
	}
	return nil
}

func renderBudgetAlert(alert domain.BudgetAlert) string {
	name := alert.UserName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		`<p>Hi %s,</p>
<p>You have used <strong>%s%%</strong> of your monthly budget on account <strong>%s</strong>.</p>
<p>Spent so far: <strong>%s</strong> of your <strong>%s</strong> budget.</p>
<p>Keep an eye on your upcoming expenses to stay on track.</p>`,
		name,
		alert.PercentUsed.StringFixed(1),
		alert.AccountName,
		alert.TotalExpenses.StringFixed(2),
		alert.BudgetAmount.StringFixed(2),
	)
}
