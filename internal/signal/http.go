// Package signal implements the out-of-band negotiation clients: the token
// broker that issues ephemeral credentials and the upstream endpoint that
// answers SDP offers.
package signal

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

// HTTPSignaler talks to the token broker and the upstream negotiation
// endpoint over HTTP.
type HTTPSignaler struct {
	brokerURL   string
	upstreamURL string
	model       string
	client      *http.Client
}

func NewHTTPSignaler(brokerURL, upstreamURL, model string) *HTTPSignaler {
	return &HTTPSignaler{
		brokerURL:   strings.TrimSpace(brokerURL),
		upstreamURL: strings.TrimSpace(upstreamURL),
		model:       model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sessionRequest struct {
	Instructions string `json:"instructions,omitempty"`
}

type sessionResponse struct {
	Result struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	} `json:"result"`
}

// EphemeralKey exchanges optional instructions for a short-lived credential
// via the token broker.
func (s *HTTPSignaler) EphemeralKey(ctx context.Context, instructions string) (string, error) {
	payload, err := json.Marshal(sessionRequest{Instructions: instructions})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.brokerURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create broker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("broker status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed sessionResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode broker response: %w", err)
	}
	if parsed.Result.ClientSecret.Value == "" {
		return "", fmt.Errorf("broker response missing client secret")
	}
	return parsed.Result.ClientSecret.Value, nil
}

// ExchangeSDP submits the local offer to the upstream negotiation endpoint,
// authenticated with the ephemeral credential, and returns the raw answer.
func (s *HTTPSignaler) ExchangeSDP(ctx context.Context, offerSDP, ephemeralKey string) (string, error) {
	url := fmt.Sprintf("%s?model=%s", s.upstreamURL, s.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("create negotiation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("negotiation request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read negotiation response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("negotiation status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
