package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"botconvo/pkg/types"
)

// openAIEngine talks to an OpenAI-compatible completion server (e.g. llama.cpp's
// llama-server). The run name is sent as the model id.
type openAIEngine struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// NewOpenAI constructs a server-backed engine.
func NewOpenAI(opts Options) Engine { return newOpenAIEngine(opts, KindOpenAI) }

func newOpenAIEngine(opts Options, kind string) *openAIEngine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: deadlines come from the request context and opts.Timeout.
	return &openAIEngine{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        opts.Logger.With().Str("engine", kind).Logger(),
	}
}

type openAISession struct {
	Handle
	model    string
	baseURL  string
	released atomic.Bool
}

type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	N           int      `json:"n"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

type completionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
}

func (e *openAIEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

// Load probes /v1/models; the server owns the weights, so a reachable server is a loaded session.
func (e *openAIEngine) Load(ctx context.Context, ref types.CheckpointRef) (Session, error) {
	if err := e.probe(ctx, e.baseURL); err != nil {
		return nil, err
	}
	s := &openAISession{Handle: NewHandle(ref), model: ref.RunName, baseURL: e.baseURL}
	e.log.Debug().Str("run_id", s.ID()).Str("model", s.model).Msg("session opened")
	return s, nil
}

// probe checks that the server at baseURL answers /v1/models with 2xx.
func (e *openAIEngine) probe(ctx context.Context, baseURL string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	e.authorize(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrDependencyUnavailable("completion server unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("completion server health: %s", resp.Status)
	}
	return nil
}

func (e *openAIEngine) Reset(s Session) error {
	sess, ok := s.(*openAISession)
	if !ok {
		return foreignSession(s)
	}
	sess.released.Store(true)
	return nil
}

func (e *openAIEngine) Generate(ctx context.Context, s Session, r Request) ([]string, error) {
	sess, ok := s.(*openAISession)
	if !ok {
		return nil, foreignSession(s)
	}
	return e.complete(ctx, sess, r)
}

// complete produces r.BatchSize samples, one /v1/completions call each.
// llama-server accepts only n=1, so the batch is generated sequentially and
// returned in generation order.
func (e *openAIEngine) complete(ctx context.Context, sess *openAISession, r Request) ([]string, error) {
	texts := make([]string, 0, r.BatchSize)
	for i := 0; i < r.BatchSize; i++ {
		if sess.released.Load() {
			return nil, ErrReleased
		}
		text, err := e.completeOne(ctx, sess, r)
		if err != nil {
			return nil, fmt.Errorf("sample %d/%d: %w", i+1, r.BatchSize, err)
		}
		texts = append(texts, Truncate(r.Params.PromptPrefix+text, r.Truncate))
	}
	return texts, nil
}

func (e *openAIEngine) completeOne(ctx context.Context, sess *openAISession, r Request) (string, error) {
	payload := completionRequest{
		Model:       sess.model,
		Prompt:      r.Params.PromptPrefix,
		MaxTokens:   r.Params.LengthTokens,
		Temperature: r.Params.Temperature,
		N:           1,
		Stream:      false,
	}
	if r.Truncate != "" {
		payload.Stop = []string{r.Truncate}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion server returned no choices")
	}
	return out.Choices[0].Text, nil
}

func (e *openAIEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}
