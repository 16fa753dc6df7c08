package soar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ActionWebhook posts the step context to an external URL.
const ActionWebhook = "webhook"

// URLValidator rejects URLs that outbound calls must not reach.
type URLValidator func(ctx context.Context, rawURL string) error

// webhookPayload is the JSON body sent by the webhook action.
type webhookPayload struct {
	TenantID   string    `json:"tenant_id"`
	PlaybookID string    `json:"playbook_id"`
	Playbook   string    `json:"playbook"`
	Step       string    `json:"step"`
	Message    string    `json:"message,omitempty"`
	Event      any       `json:"event,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// WebhookAction returns the webhook action. The step needs a "url" param; an
// optional "secret" is sent as a bearer token. validate may be nil.
func WebhookAction(client *http.Client, validate URLValidator) Action {
	return func(ctx context.Context, in ActionInput) (map[string]any, error) {
		target := in.Param("url")
		if target == "" {
			return nil, errors.New("webhook: url parameter is required")
		}
		if validate != nil {
			if err := validate(ctx, target); err != nil {
				return nil, fmt.Errorf("webhook: %w", err)
			}
		}

		payload := webhookPayload{
			TenantID:   in.TenantID.String(),
			PlaybookID: in.Playbook.ID.String(),
			Playbook:   in.Playbook.Name,
			Step:       in.Step.Name,
			Message:    in.Param("message"),
			SentAt:     time.Now().UTC(),
		}
		if in.Event != nil {
			payload.Event = in.Event
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("webhook: marshal payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("webhook: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "aegis-soar")
		if secret := in.Param("secret"); secret != "" {
			req.Header.Set("Authorization", "Bearer "+secret)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook: %s returned %d", target, resp.StatusCode)
		}
		return map[string]any{"delivered": true, "status_code": resp.StatusCode}, nil
	}
}
