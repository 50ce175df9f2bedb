package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/promptr-app/promptr/svc/billing"
)

var (
	ErrUnauthorized = errors.New("syncagent: credential rejected")
	ErrUnexpected   = errors.New("syncagent: unexpected response")
	ErrAlreadyRun   = errors.New("syncagent: agent already started")
)

// Fetcher loads the authoritative view for a credential.
type Fetcher interface {
	Fetch(ctx context.Context, token string) (View, error)
}

// HTTPFetcher reads GET {baseURL}/api/subscriptions.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for the service at baseURL. A nil client
// uses one with a 10s timeout.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		url:    strings.TrimRight(baseURL, "/") + "/api/subscriptions",
		client: client,
	}
}

type subscriptionPayload struct {
	Subscription *struct {
		Plan             billing.Plan   `json:"plan"`
		Status           billing.Status `json:"status"`
		CurrentPeriodEnd time.Time      `json:"currentPeriodEnd"`
	} `json:"subscription"`
	PromptOptimizations int `json:"promptOptimizations"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, token string) (View, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return View{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return View{}, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return View{}, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return View{}, fmt.Errorf("%w: status %d", ErrUnexpected, resp.StatusCode)
	}

	var p subscriptionPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return View{}, errors.Join(ErrUnexpected, err)
	}
	v := View{PromptOptimizations: p.PromptOptimizations}
	if p.Subscription != nil {
		v.Subscribed = true
		v.Plan = p.Subscription.Plan
		v.Status = p.Subscription.Status
		v.CurrentPeriodEnd = p.Subscription.CurrentPeriodEnd
	}
	return v, nil
}
