// Package smoke probes a running engine's HTTP surface: health, model info
// and one completion through each OpenAI-compatible endpoint.
package smoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"servectl/internal/common/netutil"
)

// ErrUnreachable classifies connection failures: nothing is serving yet.
var ErrUnreachable = errors.New("server not reachable")

// IsUnreachable reports whether err means the server could not be contacted.
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }

// StatusError is a reachable server answering with an unexpected status.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d: %s", e.Path, e.Code, strings.TrimSpace(e.Body))
}

// ModelInfo is the payload of /get_model_info.
type ModelInfo struct {
	ModelPath     string `json:"model_path"`
	TokenizerPath string `json:"tokenizer_path,omitempty"`
	IsGeneration  bool   `json:"is_generation"`
}

type Client struct {
	base      string
	model     string
	maxTokens int64
	hc        *http.Client
	oai       openai.Client
	log       zerolog.Logger
}

type Option func(*Client)

// DefaultTimeout bounds a single request, so a wedged server fails the step.
const DefaultTimeout = 2 * time.Minute

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithTimeout sets the per-request limit; zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.hc = &http.Client{Timeout: d}
		}
	}
}
func WithLogger(l zerolog.Logger) Option     { return func(c *Client) { c.log = l } }

// WithModel sets the model name sent with completions; by default the
// model_path reported by the server is used.
func WithModel(m string) Option { return func(c *Client) { c.model = m } }

func WithMaxTokens(n int64) Option { return func(c *Client) { c.maxTokens = n } }

// New returns a client for the engine at baseURL (e.g. http://127.0.0.1:30000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:      strings.TrimRight(baseURL, "/"),
		maxTokens: 32,
		hc:        &http.Client{Timeout: DefaultTimeout},
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.oai = openai.NewClient(
		option.WithBaseURL(c.base+"/v1"),
		option.WithAPIKey("EMPTY"),
		option.WithHTTPClient(c.hc),
		option.WithMaxRetries(0),
	)
	return c
}

// Endpoint builds the base URL for a host/port pair; wildcard hosts map to loopback.
func Endpoint(host string, port int) string {
	return "http://" + netutil.LoopbackAddr(host, port)
}

func (c *Client) BaseURL() string { return c.base }

// classify wraps connection-level failures with ErrUnreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var op *net.OpError
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		(errors.As(err, &op) && op.Op == "dial") {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, &StatusError{Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Health returns nil when /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/health")
	return err
}

// Ready implements supervisor.Readiness.
func (c *Client) Ready(ctx context.Context) bool { return c.Health(ctx) == nil }

func (c *Client) ModelInfo(ctx context.Context) (ModelInfo, error) {
	body, err := c.get(ctx, "/get_model_info")
	if err != nil {
		return ModelInfo{}, err
	}
	var mi ModelInfo
	if err := json.Unmarshal(body, &mi); err != nil {
		return ModelInfo{}, fmt.Errorf("decode model info: %w", err)
	}
	return mi, nil
}

func (c *Client) modelName(ctx context.Context) string {
	if c.model != "" {
		return c.model
	}
	if mi, err := c.ModelInfo(ctx); err == nil && mi.ModelPath != "" {
		c.model = mi.ModelPath
	}
	return c.model
}

// Complete sends prompt to /v1/completions and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.oai.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(c.modelName(ctx)),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Text, nil
}

// Chat sends prompt as a single user message to /v1/chat/completions.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	resp, err := c.oai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.modelName(ctx)),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Step is the outcome of one smoke-test request.
type Step struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Detail   string        `json:"detail,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report collects the steps of one Run.
type Report struct {
	BaseURL   string `json:"base_url"`
	Reachable bool   `json:"reachable"`
	Steps     []Step `json:"steps"`
}

// OK reports whether the server was reachable and every step passed.
func (r Report) OK() bool {
	if !r.Reachable {
		return false
	}
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

// Run executes health, model info, completion and chat in order. An
// unreachable server ends the run after the health step.
func (c *Client) Run(ctx context.Context, prompt string) Report {
	rep := Report{BaseURL: c.base, Reachable: true}
	step := func(name string, fn func() (string, error)) error {
		start := time.Now()
		detail, err := fn()
		s := Step{Name: name, OK: err == nil, Detail: detail, Duration: time.Since(start)}
		if err != nil {
			s.Err = err.Error()
			c.log.Warn().Str("step", name).Err(err).Msg("smoke step failed")
		} else {
			c.log.Info().Str("step", name).Str("detail", detail).Dur("took", s.Duration).Msg("smoke step ok")
		}
		rep.Steps = append(rep.Steps, s)
		return err
	}

	err := step("health", func() (string, error) {
		if err := c.Health(ctx); err != nil {
			return "", err
		}
		return "200 OK", nil
	})
	if IsUnreachable(err) {
		rep.Reachable = false
		return rep
	}
	_ = step("model_info", func() (string, error) {
		mi, err := c.ModelInfo(ctx)
		return mi.ModelPath, err
	})
	_ = step("completion", func() (string, error) { return c.Complete(ctx, prompt) })
	_ = step("chat", func() (string, error) { return c.Chat(ctx, prompt) })
	return rep
}
