package optimizer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/promptr-app/promptr/pkg/logger"
)

// Client calls the chat completions endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	log    *slog.Logger
	apiURL string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout bounds the whole stream.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-oss-120b"
	}
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = 3500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    logger.Discard(),
		apiURL: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Stream              bool          `json:"stream"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Optimize opens a completion stream for req. The stream is open (upstream
// answered 200) when it returns without error; the caller must Close it.
func (c *Client) Optimize(ctx context.Context, req Request) (*Stream, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: req.UserMessage()},
		},
		Stream:              true,
		MaxCompletionTokens: c.cfg.MaxCompletionTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Join(ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.ErrorContext(ctx, "completion API rejected request",
			slog.Int("status_code", resp.StatusCode), slog.String("body", string(respBody)))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: resp.Body, scanner: scanner}, nil
}

// Stream yields content deltas from a server-sent events response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next non-empty content delta, or io.EOF once the
// upstream sends [DONE] or closes the connection.
func (s *Stream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", errors.Join(ErrUpstream, fmt.Errorf("decode chunk: %w", err))
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("%w: %s", ErrUpstream, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", errors.Join(ErrUpstream, err)
	}
	return "", io.EOF
}

// Copy writes all deltas to w, calling flush after each one when set.
func (s *Stream) Copy(w io.Writer, flush func()) (int64, error) {
	var total int64
	for {
		delta, err := s.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := io.WriteString(w, delta)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if flush != nil {
			flush()
		}
	}
}

func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
