// Package client asks a running botd for a sample, the way a chat bot that
// relays the daemon's text would.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"botconvo/internal/sampler"
	"botconvo/pkg/types"
)

// Client issues generation requests against one daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// StripStart removes the start sentinel from replies.
	StripStart bool
}

// New returns a client for baseURL. Generation can take a long time (a
// recycle reloads the model), so timeout should be generous; zero disables it.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ask sends prompt in the prompt header and returns the body of the reply.
// An empty prompt sends no header.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", err
	}
	if prompt != "" {
		req.Header.Set("prompt", prompt)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var er types.ErrorResponse
		if json.Unmarshal(b, &er) == nil && er.Error != "" {
			return "", fmt.Errorf("botd: %s (%d)", er.Error, resp.StatusCode)
		}
		return "", fmt.Errorf("botd: %s", resp.Status)
	}
	text := string(b)
	if c.StripStart {
		text = StripSentinels(text)
	}
	return text, nil
}

// StripSentinels removes every start sentinel from text.
func StripSentinels(text string) string {
	return strings.ReplaceAll(text, sampler.StartOfText, "")
}
