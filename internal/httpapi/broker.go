package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SessionBroker mints upstream realtime sessions on behalf of clients that
// must never see the long-lived API key.
type SessionBroker interface {
	CreateSession(ctx context.Context, instructions string) (json.RawMessage, error)
}

// UpstreamBroker calls the provider's sessions endpoint with the server-held
// credential.
type UpstreamBroker struct {
	sessionsURL string
	apiKey      string
	model       string
	voice       string
	client      *http.Client
}

func NewUpstreamBroker(sessionsURL, apiKey, model, voice string) *UpstreamBroker {
	return &UpstreamBroker{
		sessionsURL: sessionsURL,
		apiKey:      apiKey,
		model:       model,
		voice:       voice,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (b *UpstreamBroker) CreateSession(ctx context.Context, instructions string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]any{
		"model":        b.model,
		"voice":        b.voice,
		"instructions": instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.sessionsURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create sessions request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sessions request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read sessions response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("sessions status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("sessions response is not JSON")
	}
	return json.RawMessage(body), nil
}
