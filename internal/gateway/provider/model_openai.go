// Package provider OpenAI 兼容的 chat/completions 客户端，供决策预言机调用。
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jpillora/backoff"

	"aitrade/internal/logger"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultMaxTokens   = 4096
	defaultTimeout     = 60 * time.Second
	defaultRetries     = 2
	defaultTemperature = 0.7
	maxRetryWait       = 8 * time.Second
)

// ChatPayload 一次对话请求的内容。
type ChatPayload struct {
	System     string
	User       string
	MaxTokens  int
	ExpectJSON bool
}

// StatusError 非 2xx 响应。
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d: %s", e.Status, e.Message)
}

// OpenAIChatClient 每个 bot 使用自己模型记录里的地址、密钥与模型名。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	ExtraHeaders map[string]string
	HTTPClient   *http.Client

	sleep func(context.Context, time.Duration) error
}

// Call 发送一次对话并返回第一条 choice 的文本。429/5xx 按 Retry-After 或指数退避重试。
func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if strings.TrimSpace(c.Model) == "" {
		return "", errors.New("model name 为空")
	}
	body, err := buildChatBody(c.Model, payload)
	if err != nil {
		return "", err
	}
	httpc := c.HTTPClient
	if httpc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpc = &http.Client{Timeout: timeout}
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = defaultRetries
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	url := c.chatCompletionsURL()
	logger.Debugf("[AI] 请求: POST %s model=%s headers=%v bytes=%d", url, c.Model, c.headersForLog(), len(body))
	bo := &backoff.Backoff{Min: 800 * time.Millisecond, Max: maxRetryWait, Factor: 2}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		content, retryAfter, err := c.do(ctx, httpc, url, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		var se *StatusError
		if !errors.As(err, &se) || !shouldRetry(se.Status) || attempt == retries {
			break
		}
		wait := bo.ForAttempt(float64(attempt))
		if retryAfter > 0 {
			wait = retryAfter
		}
		logger.Warnf("[AI] %s 第 %d 次失败，%s 后重试: %v", c.Model, attempt+1, wait, err)
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (c *OpenAIChatClient) do(ctx context.Context, httpc *http.Client, url string, body []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[AI] response body close failed: %v", cerr)
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode/100 != 2 {
		return "", parseRetryAfter(resp.Header.Get("Retry-After")), &StatusError{Status: resp.StatusCode, Message: parseError(data, resp.Status)}
	}
	content, err := decodeChatContent(data)
	return content, 0, err
}

func (c *OpenAIChatClient) chatCompletionsURL() string {
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = defaultBaseURL
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

func buildChatBody(model string, payload ChatPayload) ([]byte, error) {
	messages := make([]chatMessage, 0, 2)
	if s := strings.TrimSpace(payload.System); s != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: defaultTemperature,
		MaxTokens:   maxTokens,
	}
	if payload.ExpectJSON {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return json.Marshal(req)
}

func decodeChatContent(data []byte) (string, error) {
	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(r.Choices) == 0 {
		return "", errors.New("empty choices")
	}
	return r.Choices[0].Message.Content, nil
}

func (c *OpenAIChatClient) headers() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		out["Authorization"] = "Bearer " + c.APIKey
	}
	for k, v := range c.ExtraHeaders {
		out[k] = v
	}
	return out
}

func (c *OpenAIChatClient) headersForLog() map[string]string {
	out := map[string]string{}
	for k, v := range c.headers() {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "auth") || strings.Contains(lk, "key") || strings.Contains(lk, "token") {
			if len(v) > 4 {
				out[k] = "****" + v[len(v)-4:]
			} else {
				out[k] = "****"
			}
			continue
		}
		out[k] = v
	}
	return out
}

func parseError(data []byte, status string) string {
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &eresp); err == nil && strings.TrimSpace(eresp.Error.Message) != "" {
		return eresp.Error.Message
	}
	return status
}

func shouldRetry(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
