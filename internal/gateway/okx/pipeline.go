package okx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jpillora/backoff"

	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	defaultMaxAttempts       = 3
	defaultRetryAfter        = 60 * time.Second
	defaultMaxRateLimitWaits = 10
	rateLimitCodeStep        = 5 * time.Second
	maxErrorBody             = 4096
)

// Observer 接收请求结果与重试事件，用于指标。
type Observer interface {
	ObserveRequest(endpoint, outcome string)
	ObserveRetry(reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string) {}
func (nopObserver) ObserveRetry(string)           {}

// PipelineOptions 构造签名请求管线的参数。
type PipelineOptions struct {
	BaseURL           string
	Credentials       types.OKXCredentials
	Timeout           time.Duration
	MaxAttempts       int
	MaxRateLimitWaits int
	DefaultRetryAfter time.Duration
	Limits            RateLimits
	Observer          Observer
	HTTPClient        *http.Client
}

// Pipeline 负责签名、限频、重试与错误分类；每个 bot 一份，限频窗口不共享。
type Pipeline struct {
	baseURL           string
	creds             types.OKXCredentials
	httpClient        *http.Client
	limiter           *RateLimiter
	observer          Observer
	maxAttempts       int
	maxRateLimitWaits int
	defaultRetryAfter time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if !opts.Credentials.Complete() {
		return nil, ErrMissingCredentials
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://www.okx.com"
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("解析 okx base_url 失败: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	p := &Pipeline{
		baseURL:           base,
		creds:             opts.Credentials,
		httpClient:        httpClient,
		limiter:           NewRateLimiter(opts.Limits),
		observer:          obs,
		maxAttempts:       opts.MaxAttempts,
		maxRateLimitWaits: opts.MaxRateLimitWaits,
		defaultRetryAfter: opts.DefaultRetryAfter,
		now:               time.Now,
		sleep:             sleepCtx,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.maxRateLimitWaits <= 0 {
		p.maxRateLimitWaits = defaultMaxRateLimitWaits
	}
	if p.defaultRetryAfter <= 0 {
		p.defaultRetryAfter = defaultRetryAfter
	}
	return p, nil
}

// envelope OKX 统一响应结构。
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// itemStatus 批量/下单接口中逐项返回的状态。
type itemStatus struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// Do 执行一次带签名的请求，out 为 data 字段的解码目标（可为 nil）。
// 429 与交易所限频码不计入尝试次数；401/403 与鉴权码立即终止。
func (p *Pipeline) Do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if p == nil {
		return errors.New("okx pipeline 未初始化")
	}
	method = strings.ToUpper(method)
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &ExchangeError{Kind: KindDecode, Method: method, Path: path, Err: fmt.Errorf("序列化请求失败: %w", err)}
		}
		payload = buf
	}

	bo := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2}
	attempt := 0
	rateWaits := 0
	for {
		attempt++
		if err := p.limiter.Reserve(ctx, path); err != nil {
			return p.fail(&ExchangeError{Kind: KindTransport, Method: method, Path: path, Attempts: attempt, Err: err})
		}
		raw, err := p.send(ctx, method, requestPath, payload)
		if err != nil {
			ee := &ExchangeError{Kind: KindTransport, Method: method, Path: path, Attempts: attempt, Err: err}
			if ctx.Err() != nil || attempt >= p.maxAttempts {
				return p.fail(ee)
			}
			if err := p.backoff(ctx, "transport", bo.ForAttempt(float64(attempt)), ee); err != nil {
				return p.fail(ee)
			}
			continue
		}

		switch {
		case raw.status == http.StatusTooManyRequests:
			attempt--
			rateWaits++
			ee := &ExchangeError{Kind: KindRateLimit, Method: method, Path: path, HTTPStatus: raw.status, Attempts: attempt, Msg: snippet(raw.body)}
			if rateWaits > p.maxRateLimitWaits {
				return p.fail(ee)
			}
			if err := p.backoff(ctx, "http_429", p.retryAfter(raw.header.Get("Retry-After")), ee); err != nil {
				return p.fail(ee)
			}
			continue
		case raw.status == http.StatusUnauthorized || raw.status == http.StatusForbidden:
			ee := &ExchangeError{Kind: KindAuth, Method: method, Path: path, HTTPStatus: raw.status, Attempts: attempt}
			fillEnvelope(ee, raw.body)
			return p.fail(ee)
		case raw.status >= http.StatusInternalServerError:
			ee := &ExchangeError{Kind: KindHTTP, Method: method, Path: path, HTTPStatus: raw.status, Attempts: attempt, Msg: snippet(raw.body)}
			if attempt >= p.maxAttempts {
				return p.fail(ee)
			}
			if err := p.backoff(ctx, "http_5xx", bo.ForAttempt(float64(attempt)), ee); err != nil {
				return p.fail(ee)
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(raw.body, &env); err != nil {
			kind := KindDecode
			if raw.status >= 300 {
				kind = KindHTTP
			}
			return p.fail(&ExchangeError{Kind: kind, Method: method, Path: path, HTTPStatus: raw.status, Attempts: attempt, Msg: snippet(raw.body), Err: err})
		}
		ee := classifyEnvelope(env)
		if ee == nil && raw.status >= 300 {
			ee = &ExchangeError{Kind: KindHTTP, Msg: snippet(raw.body)}
		}
		if ee != nil {
			ee.Method, ee.Path, ee.HTTPStatus, ee.Attempts = method, path, raw.status, attempt
			switch ee.Kind {
			case KindRateLimit:
				attempt--
				rateWaits++
				if rateWaits > p.maxRateLimitWaits {
					return p.fail(ee)
				}
				if err := p.backoff(ctx, "rate_limit_code", time.Duration(rateWaits)*rateLimitCodeStep, ee); err != nil {
					return p.fail(ee)
				}
				continue
			case KindSystem:
				if attempt >= p.maxAttempts {
					return p.fail(ee)
				}
				if err := p.backoff(ctx, "system", bo.ForAttempt(float64(attempt)), ee); err != nil {
					return p.fail(ee)
				}
				continue
			}
			return p.fail(ee)
		}

		p.observer.ObserveRequest(path, "ok")
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return p.fail(&ExchangeError{Kind: KindDecode, Method: method, Path: path, HTTPStatus: raw.status, Attempts: attempt, Err: fmt.Errorf("解析 data 失败: %w", err)})
		}
		return nil
	}
}

// send 每次尝试都重新生成时间戳并签名。
func (p *Pipeline) send(ctx context.Context, method, requestPath string, payload []byte) (*rawResponse, error) {
	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+requestPath, reader)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	applyAuth(req.Header, p.creds, Timestamp(p.now()), method, requestPath, string(payload))
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[okx] response body close failed: %v", cerr)
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (p *Pipeline) backoff(ctx context.Context, reason string, wait time.Duration, cause *ExchangeError) error {
	p.observer.ObserveRetry(reason)
	logger.Warnf("[okx] %s %s 重试(%s) 等待 %s: %v", cause.Method, cause.Path, reason, wait, cause)
	return p.sleep(ctx, wait)
}

func (p *Pipeline) fail(ee *ExchangeError) error {
	p.observer.ObserveRequest(ee.Path, string(ee.Kind))
	return ee
}

// retryAfter 解析秒数或 HTTP 日期，缺省 60s。
func (p *Pipeline) retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return p.defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(p.now()); d > 0 {
			return d
		}
		return 0
	}
	return p.defaultRetryAfter
}

// classifyEnvelope 顶层 code 与逐项 sCode 分别检查；全部成功返回 nil。
func classifyEnvelope(env envelope) *ExchangeError {
	kind := classifyCode(env.Code)
	sub := firstFailedItem(env.Data)
	if kind == "" && sub == nil {
		return nil
	}
	ee := &ExchangeError{Kind: kind, Code: env.Code, Msg: env.Msg}
	if sub != nil {
		ee.SubCode, ee.SubMsg = sub.SCode, sub.SMsg
		subKind := classifyCode(sub.SCode)
		switch {
		case sub.SCode == CodePositionAlreadyClosed:
			ee.Kind = KindOperationFailed
		case subKind != KindExchange && subKind != "":
			ee.Kind = subKind
		case ee.Kind == "":
			ee.Kind = KindOperationFailed
		}
	}
	return ee
}

func firstFailedItem(data json.RawMessage) *itemStatus {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}
	var items []itemStatus
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil
	}
	for i := range items {
		code := strings.TrimSpace(items[i].SCode)
		if code != "" && code != codeSuccess {
			return &items[i]
		}
	}
	return nil
}

// fillEnvelope 尽力从错误响应体中提取 code/msg。
func fillEnvelope(ee *ExchangeError, body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Code != "" || env.Msg != "") {
		ee.Code, ee.Msg = env.Code, env.Msg
		return
	}
	ee.Msg = snippet(body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
