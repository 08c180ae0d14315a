package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"riskflow/backend/internal/apperr"
)

// HTTPNotifier is an HTTP implementation of the Notifier interface.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier creates a new HTTPNotifier. The timeout is not set on the
// client; callers bound each send with their context.
func NewHTTPNotifier(url string, client *http.Client) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotifier{url: strings.TrimRight(url, "/"), client: client}
}

// Send posts the message to {url}/send.
func (c *HTTPNotifier) Send(ctx context.Context, msg Message) (*Ack, error) {
	requestBody, err := json.Marshal(msg)
	if err != nil {
		return nil, &apperr.TransportError{To: msg.To, Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/send", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, &apperr.TransportError{To: msg.To, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &apperr.TransportError{To: msg.To, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperr.TransportError{To: msg.To, Err: fmt.Errorf("notification service returned status %d", resp.StatusCode)}
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, &apperr.TransportError{To: msg.To, Err: fmt.Errorf("failed to decode response body: %w", err)}
	}

	return &ack, nil
}
